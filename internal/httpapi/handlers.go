package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-relay/internal/messaging"
	"messaging-relay/internal/reporting"
	"messaging-relay/internal/store"
	"messaging-relay/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Messaging Sender
	Store     store.Repository
	Reporting *reporting.Service
	Checks    []HealthCheck

	// SendingAddress and ProxyAddress mark a message as outgoing in message listings.
	SendingAddress string
	ProxyAddress   string
}

// Sender is implemented by *messaging.Service.
type Sender interface {
	Send(ctx context.Context, req messaging.SendRequest) (messaging.SendResult, error)
}

// MethodNotAllowed answers unsupported methods on known routes.
func MethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed"})
}

// storeError maps store sentinels to a status and a generic message.
func storeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, store.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Conflict"})
	case errors.Is(err, store.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
	default:
		logger.FromGin(c).Error(op+" failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
	}
}
