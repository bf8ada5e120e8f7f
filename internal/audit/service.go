package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"messaging-relay/pkg/logger"
)

// Repository is the persistence contract for reconciliation events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, t EventType, limit int) ([]Event, error)
}

// Service records reconciliation events.
//
// Callers should treat audit logging as best-effort: the Log* helpers
// never return an error, they log failures instead.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if !e.Type.Valid() {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, t EventType, limit int) ([]Event, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if t != "" && !t.Valid() {
		return nil, ErrInvalidEvent
	}
	return s.repo.List(ctx, t, limit)
}

func (s *Service) record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", e.Type, "err", err)
	}
}

func (s *Service) LogContactCreated(ctx context.Context, contactID, phone string) {
	s.record(ctx, Event{
		Type:      EventTypeContactCreated,
		ContactID: ptr(contactID),
		Message:   "contact created for " + phone,
	})
}

func (s *Service) LogConversationCreated(ctx context.Context, contactID, conversationID, externalID string) {
	s.record(ctx, Event{
		Type:                   EventTypeConversationCreated,
		ContactID:              ptr(contactID),
		ConversationID:         ptr(conversationID),
		ExternalConversationID: ptr(externalID),
		Message:                "conversation created",
	})
}

func (s *Service) LogConversationProvisioned(ctx context.Context, conversationID, externalID string) {
	s.record(ctx, Event{
		Type:                   EventTypeConversationProvisioned,
		ConversationID:         ptr(conversationID),
		ExternalConversationID: ptr(externalID),
		Message:                "provider conversation bound",
	})
}

func (s *Service) LogParticipantBound(ctx context.Context, conversationID, externalID, participantID string) {
	s.record(ctx, Event{
		Type:                   EventTypeParticipantBound,
		ConversationID:         ptr(conversationID),
		ExternalConversationID: ptr(externalID),
		Message:                "customer participant " + participantID,
	})
}

// LogOrphanedProviderMessage records a provider message whose local row could not be written.
func (s *Service) LogOrphanedProviderMessage(ctx context.Context, conversationID, externalConversationID, externalMessageID string, cause error) {
	meta := map[string]string{}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	b, _ := json.Marshal(meta)
	s.record(ctx, Event{
		Type:                   EventTypeOrphanedProviderMessage,
		ConversationID:         ptr(conversationID),
		ExternalConversationID: ptr(externalConversationID),
		ExternalMessageID:      ptr(externalMessageID),
		Message:                "provider message not persisted locally",
		Metadata:               string(b),
	})
}
