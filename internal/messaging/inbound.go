package messaging

import (
	"context"
	"errors"

	"messaging-relay/internal/store"
	"messaging-relay/pkg/logger"
)

// Conversations webhook event types.
const (
	EventConversationAdded = "onConversationAdded"
	EventParticipantAdded  = "onParticipantAdded"
	EventMessageAdded      = "onMessageAdded"
	EventDeliveryUpdated   = "onDeliveryUpdated"
)

const unknownParty = "unknown"

type InboundMedia struct {
	URL         string
	ContentType string
}

// ConversationEvent is a normalized Conversations webhook payload.
type ConversationEvent struct {
	EventType       string
	ConversationSID string
	ParticipantSID  string
	MessageSID      string
	// Address is the customer's bound phone; ProxyAddress is ours.
	Address      string
	ProxyAddress string
	Author       string
	Body         string
	Status       string
	// Media has one entry per declared attachment (NumMedia), possibly with empty fields.
	Media []InboundMedia
}

// SMSEvent is an inbound Programmable Messaging webhook payload.
type SMSEvent struct {
	From       string
	To         string
	Body       string
	MessageSID string
	Media      []InboundMedia
}

// HandleEvent applies one provider event. Events whose preconditions are not met
// are acknowledged without side effects; re-delivered events never duplicate rows.
func (s *Service) HandleEvent(ctx context.Context, ev ConversationEvent) error {
	ctx = logger.WithAttrs(ctx,
		"event_type", ev.EventType,
		"external_conversation_id", ev.ConversationSID,
	)
	switch ev.EventType {
	case EventParticipantAdded:
		return s.onParticipantAdded(ctx, ev)
	case EventMessageAdded:
		return s.onMessageAdded(ctx, ev)
	case EventDeliveryUpdated:
		if ev.MessageSID == "" {
			logger.From(ctx).Debug("delivery update without message id ignored")
			return nil
		}
		return s.UpdateStatus(ctx, ev.MessageSID, ev.Status)
	default:
		logger.From(ctx).Debug("event acknowledged")
		return nil
	}
}

func (s *Service) onParticipantAdded(ctx context.Context, ev ConversationEvent) error {
	log := logger.From(ctx)
	if ev.ConversationSID == "" || ev.ParticipantSID == "" {
		log.Debug("participant event without ids ignored")
		return nil
	}
	conv, err := s.recon.BindExternalConversation(ctx, ev.ConversationSID, ev.Address)
	if errors.Is(err, ErrUnresolved) {
		log.Info("participant event for unknown conversation without address ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if conv.CustomerParticipantID != nil || ev.Address == "" {
		return nil
	}

	updated, err := s.repo.SetCustomerParticipant(ctx, conv.ID, ev.ParticipantSID)
	if err != nil {
		return storeErr("set customer participant", err)
	}
	if store.Deref(updated.CustomerParticipantID) == ev.ParticipantSID {
		log.Info("customer participant bound", "conversation_id", conv.ID, "participant_sid", ev.ParticipantSID)
		s.audit.LogParticipantBound(ctx, conv.ID, ev.ConversationSID, ev.ParticipantSID)
	}
	return nil
}

func (s *Service) onMessageAdded(ctx context.Context, ev ConversationEvent) error {
	log := logger.From(ctx)
	if ev.ConversationSID == "" {
		log.Debug("message event without conversation id ignored")
		return nil
	}
	conv, err := s.recon.BindExternalConversation(ctx, ev.ConversationSID, ev.Address)
	if errors.Is(err, ErrUnresolved) {
		log.Info("message event for unknown conversation without address ignored", "external_message_id", ev.MessageSID)
		return nil
	}
	if err != nil {
		return err
	}

	sender := orUnknown(ev.Author)
	receiver := orUnknown(ev.ProxyAddress)
	rows := inboundRows(sender, receiver, ev.Body, ev.MessageSID, ev.Media, func(item InboundMedia) store.MessageType {
		return ClassifyContentType(item.ContentType)
	})

	// Messages authored by our own address are not unread.
	incoming := ev.Author == "" || ev.Author != ev.ProxyAddress
	return s.record(ctx, conv.ID, ev.Body, rows, incoming)
}

// HandleSMS applies an inbound Programmable Messaging webhook.
func (s *Service) HandleSMS(ctx context.Context, ev SMSEvent) error {
	if ev.From == "" {
		return validationErr("From is required")
	}
	ctx = logger.WithAttrs(ctx, "external_message_id", ev.MessageSID)

	_, conv, err := s.recon.ResolveContactAndConversation(ctx, ev.From)
	if err != nil {
		return err
	}

	// SMS media may arrive without a declared content type.
	classify := func(item InboundMedia) store.MessageType {
		if item.ContentType == "" {
			return ClassifyMediaURL(item.URL)
		}
		return ClassifyContentType(item.ContentType)
	}
	rows := inboundRows(ev.From, orUnknown(ev.To), ev.Body, ev.MessageSID, ev.Media, classify)
	return s.record(ctx, conv.ID, ev.Body, rows, true)
}

func (s *Service) record(ctx context.Context, conversationID, body string, rows []store.Message, incoming bool) error {
	inserted, err := s.repo.RecordMessages(ctx, conversationID, rows, store.RecordOptions{
		Preview:         preview(body, rows),
		At:              s.now(),
		IncrementUnread: incoming,
	})
	if err != nil {
		return storeErr("record inbound messages", err)
	}
	log := logger.From(ctx).With("conversation_id", conversationID)
	if len(inserted) == 0 {
		log.Info("duplicate message event ignored")
		return nil
	}
	log.Info("inbound message recorded", "rows", len(inserted))
	return nil
}

// inboundRows builds one row per attachment, or a single text row. Only row 0 carries the body.
func inboundRows(sender, receiver, body, externalID string, media []InboundMedia, classify func(InboundMedia) store.MessageType) []store.Message {
	base := store.Message{
		Sender:     sender,
		Receiver:   receiver,
		Status:     store.StringPtr(store.StatusDelivered),
		ExternalID: store.StringPtr(externalID),
	}
	if len(media) == 0 {
		m := base
		m.Type = store.MessageTypeText
		m.Body = store.StringPtr(body)
		return []store.Message{m}
	}

	rows := make([]store.Message, len(media))
	for i, item := range media {
		m := base
		m.Type = classify(item)
		m.ContentURL = store.StringPtr(item.URL)
		m.MediaIndex = i
		if i == 0 {
			m.Body = store.StringPtr(body)
		}
		rows[i] = m
	}
	return rows
}

func orUnknown(v string) string {
	if v == "" {
		return unknownParty
	}
	return v
}
