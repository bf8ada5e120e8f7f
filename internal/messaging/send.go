package messaging

import (
	"context"
	"strings"

	"messaging-relay/internal/store"
	"messaging-relay/pkg/logger"
)

type SendRequest struct {
	To        string
	Body      *string
	MediaURLs []string
}

type SendResult struct {
	ConversationID         string
	ExternalConversationID string
	// ExternalMessageIDs are in creation order, one per provider message.
	ExternalMessageIDs []string
}

// Send delivers a message to req.To, one provider message per media item.
//
// The first provider message carries the body. Provider messages created before a
// failure are not rolled back; each one left without a local row is audited as orphaned.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if s.opts.SendingAddress == "" {
		return SendResult{}, configurationErr("sending address is not configured")
	}
	if s.opts.ProxyAddress == "" {
		return SendResult{}, configurationErr("proxy address is not configured")
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		return SendResult{}, validationErr("to is required")
	}

	_, conv, err := s.recon.ResolveProvisioned(ctx, to, s.opts.ProxyAddress)
	if err != nil {
		return SendResult{}, err
	}
	externalConv := store.Deref(conv.ExternalID)
	ctx = logger.WithAttrs(ctx, "conversation_id", conv.ID, "external_conversation_id", externalConv)
	log := logger.From(ctx)

	body := ""
	if req.Body != nil {
		body = *req.Body
	}

	sids, err := s.createProviderMessages(ctx, externalConv, req.Body, req.MediaURLs)
	if err != nil {
		s.auditOrphans(ctx, conv, sids, err)
		return SendResult{}, err
	}

	rows := make([]store.Message, len(sids))
	for i, sid := range sids {
		m := store.Message{
			Sender:     s.opts.SendingAddress,
			Receiver:   to,
			Type:       store.MessageTypeText,
			Status:     store.StringPtr(store.StatusQueued),
			ExternalID: &sid,
			MediaIndex: i,
		}
		if i == 0 {
			m.Body = store.StringPtr(body)
		}
		if len(req.MediaURLs) > 0 {
			m.Type = ClassifyMediaURL(req.MediaURLs[i])
			m.ContentURL = store.StringPtr(req.MediaURLs[i])
		}
		rows[i] = m
	}

	if _, err := s.repo.RecordMessages(ctx, conv.ID, rows, store.RecordOptions{
		Preview: preview(body, rows),
		At:      s.now(),
	}); err != nil {
		err = storeErr("record outbound messages", err)
		s.auditOrphans(ctx, conv, sids, err)
		return SendResult{}, err
	}

	log.Info("message sent", "provider_messages", len(sids), "media", len(req.MediaURLs))
	return SendResult{
		ConversationID:         conv.ID,
		ExternalConversationID: externalConv,
		ExternalMessageIDs:     sids,
	}, nil
}

// createProviderMessages returns the ids created so far alongside any error.
func (s *Service) createProviderMessages(ctx context.Context, externalConv string, body *string, mediaURLs []string) ([]string, error) {
	if len(mediaURLs) == 0 {
		text := ""
		if body != nil {
			text = *body
		}
		sid, err := s.provider.CreateMessage(ctx, externalConv, OutboundMessage{
			Author: s.opts.ProxyAddress,
			Body:   &text,
		})
		if err != nil {
			return nil, providerErr("create message", err)
		}
		return []string{sid}, nil
	}

	sids := make([]string, 0, len(mediaURLs))
	for i, u := range mediaURLs {
		sid, err := s.sendMedia(ctx, externalConv, u, i, body)
		if err != nil {
			return sids, err
		}
		sids = append(sids, sid)
	}
	return sids, nil
}

func (s *Service) sendMedia(ctx context.Context, externalConv, rawURL string, index int, body *string) (string, error) {
	media, err := s.fetcher.Fetch(ctx, rawURL, index)
	if err != nil {
		return "", err
	}
	defer media.Body.Close()

	m := OutboundMessage{
		Author: s.opts.ProxyAddress,
		Media: &MediaUpload{
			ContentType: media.ContentType,
			Filename:    media.Filename,
			Body:        media.Body,
		},
	}
	if index == 0 && body != nil && *body != "" {
		m.Body = body
	}
	sid, err := s.provider.CreateMessage(ctx, externalConv, m)
	if err != nil {
		return "", providerErr("create media message", err)
	}
	return sid, nil
}

func (s *Service) auditOrphans(ctx context.Context, conv store.Conversation, sids []string, cause error) {
	for _, sid := range sids {
		logger.From(ctx).Error("provider message has no local row", "external_message_id", sid, "err", cause)
		s.audit.LogOrphanedProviderMessage(ctx, conv.ID, store.Deref(conv.ExternalID), sid, cause)
	}
}
