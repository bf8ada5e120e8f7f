package messaging

import (
	"time"

	"messaging-relay/internal/audit"
	"messaging-relay/internal/store"
)

// Options carries the addresses the relay sends as.
// Empty values surface per request as ErrConfiguration.
type Options struct {
	// SendingAddress is recorded as the sender of outbound rows.
	SendingAddress string
	// ProxyAddress authors outbound provider messages and binds participants.
	ProxyAddress string
}

// Service implements the send, inbound-event and status-callback flows.
type Service struct {
	repo     store.Repository
	recon    *Reconciler
	provider Provider
	fetcher  MediaFetcher
	audit    *audit.Service
	opts     Options
	clock    func() time.Time
}

func NewService(repo store.Repository, recon *Reconciler, provider Provider, fetcher MediaFetcher, auditSvc *audit.Service, opts Options) *Service {
	return &Service{
		repo:     repo,
		recon:    recon,
		provider: provider,
		fetcher:  fetcher,
		audit:    auditSvc,
		opts:     opts,
		clock:    time.Now,
	}
}

func (s *Service) now() time.Time { return s.clock().UTC() }

const (
	previewImage = "Image"
	previewMedia = "Media received"
)

// preview is the conversation list snippet for a batch of rows.
func preview(body string, rows []store.Message) string {
	if body != "" {
		return body
	}
	for _, m := range rows {
		if m.Type == store.MessageTypeImage {
			return previewImage
		}
		if m.Type == store.MessageTypeMedia {
			return previewMedia
		}
	}
	return ""
}
