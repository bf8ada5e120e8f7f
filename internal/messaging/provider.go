package messaging

import (
	"context"
	"io"
)

// Provider is the outbound messaging provider.
// Adapters keep SDK calls out of reconciliation logic.
type Provider interface {
	// CreateConversation returns the provider conversation id.
	CreateConversation(ctx context.Context, friendlyName string) (string, error)
	// AddParticipant binds address to the conversation through proxyAddress and returns the participant id.
	AddParticipant(ctx context.Context, conversationID, address, proxyAddress string) (string, error)
	// CreateMessage returns the provider message id.
	CreateMessage(ctx context.Context, conversationID string, m OutboundMessage) (string, error)
}

type OutboundMessage struct {
	Author string
	// Body is sent as-is when non-nil; "" is a valid body.
	Body  *string
	Media *MediaUpload
}

// MediaUpload is a single attachment streamed to the provider.
type MediaUpload struct {
	ContentType string
	Filename    string
	Body        io.Reader
}
