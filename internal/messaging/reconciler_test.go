package messaging

import (
	"context"
	"errors"
	"testing"

	"messaging-relay/internal/audit"
	"messaging-relay/internal/store"
)

func TestResolveContactAndConversation_Idempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	c1, conv1, err := h.svc.recon.ResolveContactAndConversation(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	c2, conv2, err := h.svc.recon.ResolveContactAndConversation(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if c1.ID != c2.ID || conv1.ID != conv2.ID {
		t.Fatalf("expected same records, got %s/%s and %s/%s", c1.ID, conv1.ID, c2.ID, conv2.ID)
	}
	if c1.Name != "+15551234567" {
		t.Fatalf("expected name defaulted to phone, got %q", c1.Name)
	}
	if conv1.HasExternalID() {
		t.Fatalf("resolve must not provision")
	}
	if h.provider.conversationCount() != 0 {
		t.Fatalf("resolve must not call the provider")
	}
	if contacts, convs, _ := h.repo.Counts(); contacts != 1 || convs != 1 {
		t.Fatalf("expected 1 contact and 1 conversation, got %d/%d", contacts, convs)
	}
}

func TestResolveContactAndConversation_RequiresPhone(t *testing.T) {
	h := newHarness()
	if _, _, err := h.svc.recon.ResolveContactAndConversation(context.Background(), ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnsureProviderConversation_ExternalIDIsMonotonic(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, conv, _ := h.svc.recon.ResolveContactAndConversation(ctx, "+1555")

	got, err := h.svc.recon.EnsureProviderConversation(ctx, conv, "+1555", "+1999")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if store.Deref(got.ExternalID) != "CH1" {
		t.Fatalf("expected CH1, got %q", store.Deref(got.ExternalID))
	}
	if h.provider.conversations[0] != "contact:+1555" {
		t.Fatalf("unexpected friendly name %q", h.provider.conversations[0])
	}
	if p := h.provider.participants[0]; p != [3]string{"CH1", "+1555", "+1999"} {
		t.Fatalf("unexpected participant %v", p)
	}

	// A stale copy without the id must not provision again.
	again, err := h.svc.recon.EnsureProviderConversation(ctx, conv, "+1555", "+1999")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if store.Deref(again.ExternalID) != "CH1" || h.provider.conversationCount() != 1 {
		t.Fatalf("external id changed or provider called twice")
	}

	stored, _ := h.repo.GetConversation(ctx, conv.ID)
	if store.Deref(stored.ExternalID) != "CH1" {
		t.Fatalf("stored external id %q", store.Deref(stored.ExternalID))
	}
}

func TestEnsureProviderConversation_ProviderErrorPropagates(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cause := errors.New("twilio 401")
	h.provider.failCreateConversation = cause
	_, conv, _ := h.svc.recon.ResolveContactAndConversation(ctx, "+1555")

	_, err := h.svc.recon.EnsureProviderConversation(ctx, conv, "+1555", "+1999")
	if !errors.Is(err, ErrProvider) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	stored, _ := h.repo.GetConversation(ctx, conv.ID)
	if stored.HasExternalID() {
		t.Fatalf("external id must stay unset on failure")
	}
}

func TestBindExternalConversation_AdoptsUnboundConversation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, conv, _ := h.svc.recon.ResolveContactAndConversation(ctx, "+1555")

	got, err := h.svc.recon.BindExternalConversation(ctx, "CH42", "+1555")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if got.ID != conv.ID || store.Deref(got.ExternalID) != "CH42" {
		t.Fatalf("expected existing conversation to adopt CH42, got %+v", got)
	}
}

func TestBindExternalConversation_NewConversationWhenContactAlreadyBound(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, conv, _ := h.svc.recon.ResolveContactAndConversation(ctx, "+1555")
	if _, err := h.svc.recon.BindExternalConversation(ctx, "CH1", "+1555"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	got, err := h.svc.recon.BindExternalConversation(ctx, "CH2", "+1555")
	if err != nil {
		t.Fatalf("bind second: %v", err)
	}
	if got.ID == conv.ID || store.Deref(got.ExternalID) != "CH2" {
		t.Fatalf("expected a new conversation for CH2, got %+v", got)
	}
	first, _ := h.repo.GetConversation(ctx, conv.ID)
	if store.Deref(first.ExternalID) != "CH1" {
		t.Fatalf("first conversation external id overwritten: %q", store.Deref(first.ExternalID))
	}
}

func TestBindExternalConversation_UnresolvedWithoutAddress(t *testing.T) {
	h := newHarness()
	_, err := h.svc.recon.BindExternalConversation(context.Background(), "CH404", "")
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected unresolved, got %v", err)
	}
	if _, convs, _ := h.repo.Counts(); convs != 0 {
		t.Fatalf("expected no conversation created")
	}
}

func TestReconciler_AuditsCreations(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, conv, _ := h.svc.recon.ResolveContactAndConversation(ctx, "+1555")
	_, _ = h.svc.recon.EnsureProviderConversation(ctx, conv, "+1555", "+1999")

	var types []audit.EventType
	for _, e := range h.audit.Events() {
		types = append(types, e.Type)
	}
	want := []audit.EventType{
		audit.EventTypeContactCreated,
		audit.EventTypeConversationCreated,
		audit.EventTypeConversationProvisioned,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}
