package main

import (
	"github.com/gin-gonic/gin"

	"messaging-relay/internal/httpapi"
	"messaging-relay/internal/telephony"
)

type routeDeps struct {
	API      httpapi.Handlers
	Webhooks telephony.WebhookHandler
	Verifier *telephony.SignatureVerifier
	Origins  []string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// CORS runs on the engine so preflights for POST/PUT-only routes reach it.
	r.Use(httpapi.CORS(d.Origins))
	r.HandleMethodNotAllowed = true
	r.NoMethod(httpapi.MethodNotAllowed)

	api := r.Group("/api")

	api.GET("/health", d.API.Health)

	// Provider webhooks: signature checked before any side effect.
	hooks := api.Group("")
	hooks.Use(d.Verifier.Middleware())
	{
		hooks.POST("/twilio-conversations-webhook", d.Webhooks.HandleConversationsEvent)
		hooks.POST("/twilio-status-callback", d.Webhooks.HandleStatusCallback)
		hooks.POST("/twilio-webhook", d.Webhooks.HandleInboundSMS)
	}

	api.POST("/send-message", d.API.SendMessage)

	entities := api.Group("/entities")
	{
		entities.GET("/contacts", d.API.ListContacts)
		entities.POST("/contacts", d.API.CreateContact)
		entities.PUT("/contacts", d.API.UpdateContact)

		entities.GET("/conversations", d.API.ListConversations)
		entities.POST("/conversations", d.API.CreateConversation)
		entities.PUT("/conversations", d.API.UpdateConversation)
		entities.GET("/conversations/:id/summary", d.API.ConversationSummary)
		entities.GET("/inbox", d.API.InboxSummary)

		entities.GET("/messages", d.API.ListMessages)
		entities.POST("/messages", d.API.CreateMessage)

		entities.GET("/users", d.API.GetProfile)
		entities.PUT("/users", d.API.SaveProfile)
	}
}
