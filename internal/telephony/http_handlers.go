package telephony

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-relay/internal/messaging"
	"messaging-relay/pkg/logger"
)

// WebhookHandler converts Twilio webhooks to messaging events and writes the
// acknowledgment Twilio expects. No business logic here.
//
// Handlers run behind SignatureVerifier.Middleware.
type WebhookHandler struct {
	Messaging EventHandler

	// MediaBaseURL builds content URLs for media announced by sid only.
	MediaBaseURL string
}

// EventHandler is implemented by *messaging.Service.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev messaging.ConversationEvent) error
	HandleSMS(ctx context.Context, ev messaging.SMSEvent) error
	UpdateStatus(ctx context.Context, externalMessageID, status string) error
}

func (h WebhookHandler) HandleConversationsEvent(c *gin.Context) {
	log := logger.FromGin(c)

	params, err := ParamsFromGin(c)
	if err != nil {
		log.Warn("conversations webhook parse failed", "err", err)
		c.String(http.StatusBadRequest, "Bad request")
		return
	}
	ev := ConversationEventFromParams(params, h.MediaBaseURL)

	if err := h.Messaging.HandleEvent(c.Request.Context(), ev); err != nil {
		log.Error("conversations webhook failed",
			"event_type", ev.EventType,
			"conversation_sid", ev.ConversationSID,
			"message_sid", ev.MessageSID,
			"err", err,
		)
		c.String(http.StatusInternalServerError, "Internal")
		return
	}
	c.String(http.StatusOK, "OK")
}

// HandleStatusCallback always acknowledges once the sid is present so Twilio stops retrying.
func (h WebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	params, err := ParamsFromGin(c)
	if err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.String(http.StatusBadRequest, "Bad request")
		return
	}
	upd := StatusUpdateFromParams(params)
	if upd.MessageSID == "" {
		c.String(http.StatusBadRequest, "Missing MessageSid")
		return
	}

	if err := h.Messaging.UpdateStatus(c.Request.Context(), upd.MessageSID, upd.Status); err != nil {
		log.Error("status update failed", "message_sid", upd.MessageSID, "status", upd.Status, "err", err)
	}
	c.String(http.StatusOK, "OK")
}

func (h WebhookHandler) HandleInboundSMS(c *gin.Context) {
	log := logger.FromGin(c)

	params, err := ParamsFromGin(c)
	if err != nil {
		log.Warn("sms webhook parse failed", "err", err)
		c.String(http.StatusBadRequest, "Bad request")
		return
	}
	ev := SMSEventFromParams(params)

	if err := h.Messaging.HandleSMS(c.Request.Context(), ev); err != nil {
		log.Error("inbound sms failed", "message_sid", ev.MessageSID, "from", ev.From, "err", err)
		c.String(http.StatusInternalServerError, "Internal")
		return
	}

	twiml, err := RenderMessagingTwiML("")
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.String(http.StatusInternalServerError, "Internal")
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twiml)
}
