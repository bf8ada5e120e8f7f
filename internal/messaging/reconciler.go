package messaging

import (
	"context"
	"errors"

	"messaging-relay/internal/audit"
	"messaging-relay/internal/store"
	"messaging-relay/pkg/logger"
)

// ErrUnresolved is returned when an event names an unknown provider conversation
// and carries no address to create one from.
var ErrUnresolved = errors.New("conversation unresolved")

// Reconciler keeps contacts and conversations in sync with provider conversations.
//
// Find-or-create sequences run under per-key locks and rely on the store's
// uniqueness rules, so concurrent callers converge on the same records.
type Reconciler struct {
	repo     store.Repository
	provider Provider
	locker   Locker
	audit    *audit.Service
}

func NewReconciler(repo store.Repository, provider Provider, locker Locker, auditSvc *audit.Service) *Reconciler {
	return &Reconciler{repo: repo, provider: provider, locker: locker, audit: auditSvc}
}

// ResolveContactAndConversation finds or creates the contact for phone and its conversation.
// It has no provider side effect.
func (r *Reconciler) ResolveContactAndConversation(ctx context.Context, phone string) (store.Contact, store.Conversation, error) {
	if phone == "" {
		return store.Contact{}, store.Conversation{}, validationErr("phone is required")
	}
	var (
		contact store.Contact
		conv    store.Conversation
	)
	err := withLock(ctx, r.locker, phoneKey(phone), func() error {
		var err error
		contact, conv, err = r.resolve(ctx, phone)
		return err
	})
	return contact, conv, err
}

// EnsureProviderConversation provisions a provider conversation for conv when it has none.
// A conversation that already carries an external id is returned unchanged.
func (r *Reconciler) EnsureProviderConversation(ctx context.Context, conv store.Conversation, phone, proxyAddress string) (store.Conversation, error) {
	if conv.HasExternalID() {
		return conv, nil
	}
	var out store.Conversation
	err := withLock(ctx, r.locker, conversationKey(conv.ID), func() error {
		var err error
		out, err = r.ensure(ctx, conv, phone, proxyAddress)
		return err
	})
	return out, err
}

// ResolveProvisioned is ResolveContactAndConversation followed by EnsureProviderConversation,
// held under one phone lock so concurrent sends to a new contact provision once.
func (r *Reconciler) ResolveProvisioned(ctx context.Context, phone, proxyAddress string) (store.Contact, store.Conversation, error) {
	if phone == "" {
		return store.Contact{}, store.Conversation{}, validationErr("phone is required")
	}
	var (
		contact store.Contact
		conv    store.Conversation
	)
	err := withLock(ctx, r.locker, phoneKey(phone), func() error {
		var err error
		contact, conv, err = r.resolve(ctx, phone)
		if err != nil {
			return err
		}
		conv, err = r.EnsureProviderConversation(ctx, conv, phone, proxyAddress)
		return err
	})
	return contact, conv, err
}

// BindExternalConversation returns the conversation bound to externalID, creating the
// contact and conversation from address when none exists yet.
//
// When the contact's conversation is unbound it adopts externalID. When it is bound to a
// different provider conversation a new local conversation is created for externalID.
func (r *Reconciler) BindExternalConversation(ctx context.Context, externalID, address string) (store.Conversation, error) {
	if externalID == "" {
		return store.Conversation{}, validationErr("external conversation id is required")
	}
	conv, err := r.repo.FindConversationByExternalID(ctx, externalID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Conversation{}, storeErr("find conversation by external id", err)
	}
	if address == "" {
		return store.Conversation{}, ErrUnresolved
	}

	err = withLock(ctx, r.locker, externalKey(externalID), func() error {
		// Another holder may have bound it while we waited.
		found, err := r.repo.FindConversationByExternalID(ctx, externalID)
		if err == nil {
			conv = found
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return storeErr("find conversation by external id", err)
		}
		return withLock(ctx, r.locker, phoneKey(address), func() error {
			var err error
			conv, err = r.bind(ctx, externalID, address)
			return err
		})
	})
	return conv, err
}

func (r *Reconciler) resolve(ctx context.Context, phone string) (store.Contact, store.Conversation, error) {
	contact, err := r.findOrCreateContact(ctx, phone)
	if err != nil {
		return store.Contact{}, store.Conversation{}, err
	}

	conv, err := r.repo.FindConversationByContact(ctx, contact.ID)
	if err == nil {
		return contact, conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Contact{}, store.Conversation{}, storeErr("find conversation by contact", err)
	}

	conv, err = r.repo.CreateConversation(ctx, store.Conversation{ContactID: contact.ID})
	if err != nil {
		return store.Contact{}, store.Conversation{}, storeErr("create conversation", err)
	}
	logger.From(ctx).Info("conversation created", "conversation_id", conv.ID, "contact_id", contact.ID)
	r.audit.LogConversationCreated(ctx, contact.ID, conv.ID, "")
	return contact, conv, nil
}

func (r *Reconciler) findOrCreateContact(ctx context.Context, phone string) (store.Contact, error) {
	contact, err := r.repo.FindContactByPhone(ctx, phone)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Contact{}, storeErr("find contact", err)
	}

	contact, created, err := r.repo.InsertOrGetContact(ctx, store.Contact{Name: phone, Phone: phone})
	if err != nil {
		return store.Contact{}, storeErr("create contact", err)
	}
	if created {
		logger.From(ctx).Info("contact created", "contact_id", contact.ID)
		r.audit.LogContactCreated(ctx, contact.ID, phone)
	}
	return contact, nil
}

func (r *Reconciler) ensure(ctx context.Context, conv store.Conversation, phone, proxyAddress string) (store.Conversation, error) {
	// Re-read under the lock: a previous holder may have provisioned it.
	fresh, err := r.repo.GetConversation(ctx, conv.ID)
	if err != nil {
		return store.Conversation{}, storeErr("get conversation", err)
	}
	if fresh.HasExternalID() {
		return fresh, nil
	}

	log := logger.From(ctx).With("conversation_id", conv.ID)

	externalID, err := r.provider.CreateConversation(ctx, "contact:"+phone)
	if err != nil {
		return store.Conversation{}, providerErr("create conversation", err)
	}
	if _, err := r.provider.AddParticipant(ctx, externalID, phone, proxyAddress); err != nil {
		log.Warn("provider conversation left without participant", "external_conversation_id", externalID)
		return store.Conversation{}, providerErr("add participant", err)
	}

	bound, err := r.repo.BindExternalID(ctx, conv.ID, externalID)
	if err != nil {
		return store.Conversation{}, storeErr("bind external id", err)
	}
	if store.Deref(bound.ExternalID) != externalID {
		// Lost to a writer outside the lock; keep the stored binding.
		log.Warn("provider conversation discarded, conversation already bound",
			"external_conversation_id", externalID,
			"bound_external_conversation_id", store.Deref(bound.ExternalID),
		)
		return bound, nil
	}
	log.Info("provider conversation provisioned", "external_conversation_id", externalID)
	r.audit.LogConversationProvisioned(ctx, conv.ID, externalID)
	return bound, nil
}

func (r *Reconciler) bind(ctx context.Context, externalID, address string) (store.Conversation, error) {
	contact, err := r.findOrCreateContact(ctx, address)
	if err != nil {
		return store.Conversation{}, err
	}

	existing, err := r.repo.FindConversationByContact(ctx, contact.ID)
	switch {
	case err == nil && !existing.HasExternalID():
		bound, err := r.repo.BindExternalID(ctx, existing.ID, externalID)
		if errors.Is(err, store.ErrConflict) {
			return r.refind(ctx, externalID)
		}
		if err != nil {
			return store.Conversation{}, storeErr("bind external id", err)
		}
		if store.Deref(bound.ExternalID) == externalID {
			r.audit.LogConversationProvisioned(ctx, bound.ID, externalID)
			return bound, nil
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return store.Conversation{}, storeErr("find conversation by contact", err)
	}

	conv, err := r.repo.CreateConversation(ctx, store.Conversation{
		ContactID:  contact.ID,
		ExternalID: &externalID,
	})
	if errors.Is(err, store.ErrConflict) {
		return r.refind(ctx, externalID)
	}
	if err != nil {
		return store.Conversation{}, storeErr("create conversation", err)
	}
	logger.From(ctx).Info("conversation created from provider event",
		"conversation_id", conv.ID,
		"external_conversation_id", externalID,
	)
	r.audit.LogConversationCreated(ctx, contact.ID, conv.ID, externalID)
	return conv, nil
}

func (r *Reconciler) refind(ctx context.Context, externalID string) (store.Conversation, error) {
	conv, err := r.repo.FindConversationByExternalID(ctx, externalID)
	if err != nil {
		return store.Conversation{}, storeErr("find conversation by external id", err)
	}
	return conv, nil
}
