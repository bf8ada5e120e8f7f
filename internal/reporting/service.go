package reporting

import (
	"context"
	"errors"

	"messaging-relay/internal/store"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. store.Repository satisfies it.
type Repository interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	ListConversations(ctx context.Context, f store.ConversationFilter) ([]store.Conversation, error)
	CountMessagesByStatus(ctx context.Context, conversationID string) (map[string]int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) ConversationSummary(ctx context.Context, conversationID string) (DeliverySummary, error) {
	if conversationID == "" {
		return DeliverySummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return DeliverySummary{}, errors.New("reporting: repository not configured")
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return DeliverySummary{}, err
	}
	counts, err := s.repo.CountMessagesByStatus(ctx, conversationID)
	if err != nil {
		return DeliverySummary{}, err
	}

	out := DeliverySummary{ConversationID: conv.ID, ExternalConversationID: store.Deref(conv.ExternalID)}
	for status, n := range counts {
		out.TotalMessages += n
		switch status {
		case store.StatusQueued:
			out.Queued += n
		case store.StatusSent:
			out.Sent += n
		case store.StatusDelivered:
			out.Delivered += n
		case store.StatusRead:
			out.Read += n
		case store.StatusFailed:
			out.Failed += n
		case store.StatusUndelivered:
			out.Undelivered += n
		default:
			out.Unknown += n
		}
	}
	if out.TotalMessages > 0 {
		out.DeliveryRate = float64(out.Delivered+out.Read) / float64(out.TotalMessages)
	}
	return out, nil
}

// InboxSummary optionally scopes to one contact.
func (s *Service) InboxSummary(ctx context.Context, contactID string) (InboxSummary, error) {
	if s.repo == nil {
		return InboxSummary{}, errors.New("reporting: repository not configured")
	}
	convs, err := s.repo.ListConversations(ctx, store.ConversationFilter{ContactID: contactID})
	if err != nil {
		return InboxSummary{}, err
	}

	var out InboxSummary
	for _, c := range convs {
		out.Conversations++
		if c.UnreadCount > 0 {
			out.UnreadConversations++
			out.UnreadMessages += c.UnreadCount
		}
		if !c.HasExternalID() {
			out.Unprovisioned++
		}
		if c.LastMessageTime != nil && (out.LastActivity == nil || c.LastMessageTime.After(*out.LastActivity)) {
			t := *c.LastMessageTime
			out.LastActivity = &t
		}
	}
	return out, nil
}
