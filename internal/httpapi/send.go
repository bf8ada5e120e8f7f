package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-relay/internal/messaging"
	"messaging-relay/pkg/logger"
)

type sendMessageRequest struct {
	To        string   `json:"to"`
	Body      *string  `json:"body"`
	MediaURLs []string `json:"mediaUrls"`
}

type sendMessageResponse struct {
	OK              bool     `json:"ok"`
	SIDs            []string `json:"sids"`
	Status          string   `json:"status"`
	ConversationSID string   `json:"conversationSid"`
}

// SendMessage delivers an outbound message through the relay.
func (h Handlers) SendMessage(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Messaging == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "messaging not configured"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Messaging.Send(c.Request.Context(), messaging.SendRequest{
		To:        req.To,
		Body:      req.Body,
		MediaURLs: req.MediaURLs,
	})
	if err != nil {
		switch {
		case errors.Is(err, messaging.ErrValidation), errors.Is(err, messaging.ErrConfiguration):
			log.Warn("send rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, messaging.ErrMediaFetch):
			log.Error("send media fetch failed", "err", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Media fetch failed"})
		case errors.Is(err, messaging.ErrProvider):
			log.Error("send provider failed", "err", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Provider error"})
		default:
			log.Error("send failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}

	sids := res.ExternalMessageIDs
	if sids == nil {
		sids = []string{}
	}
	c.JSON(http.StatusOK, sendMessageResponse{
		OK:              true,
		SIDs:            sids,
		Status:          "queued",
		ConversationSID: res.ExternalConversationID,
	})
}
