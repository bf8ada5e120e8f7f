package messaging

import (
	"context"

	"messaging-relay/internal/store"
	"messaging-relay/pkg/logger"
)

// UpdateStatus sets the delivery status of every row carrying externalMessageID.
// An empty status is stored as NULL. Unknown ids are a no-op.
func (s *Service) UpdateStatus(ctx context.Context, externalMessageID, status string) error {
	if externalMessageID == "" {
		return validationErr("message id is required")
	}
	n, err := s.repo.UpdateMessageStatus(ctx, externalMessageID, store.StringPtr(status))
	if err != nil {
		return storeErr("update message status", err)
	}
	log := logger.From(ctx).With("external_message_id", externalMessageID, "status", status)
	if n == 0 {
		log.Debug("status update matched no message")
		return nil
	}
	log.Debug("message status updated", "rows", n)
	return nil
}
