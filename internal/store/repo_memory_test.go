package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryRepo_InsertOrGetContactIsAtomicOnPhone(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 16)
	created := make([]bool, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, ok, err := repo.InsertOrGetContact(ctx, Contact{Phone: "+15550001111"})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			ids[i], created[i] = c.ID, ok
		}(i)
	}
	wg.Wait()

	n := 0
	for i := range ids {
		if ids[i] != ids[0] {
			t.Fatalf("expected a single contact id, got %q and %q", ids[0], ids[i])
		}
		if created[i] {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one creator, got %d", n)
	}

	c, err := repo.FindContactByPhone(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c.Name != "+15550001111" {
		t.Fatalf("expected name defaulted to phone, got %q", c.Name)
	}
}

func TestMemoryRepo_BindExternalIDNeverOverwrites(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	contact, _, _ := repo.InsertOrGetContact(ctx, Contact{Phone: "+1"})
	conv, err := repo.CreateConversation(ctx, Conversation{ContactID: contact.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.BindExternalID(ctx, conv.ID, "CH1")
	if err != nil || Deref(got.ExternalID) != "CH1" {
		t.Fatalf("bind: %v %+v", err, got)
	}
	got, err = repo.BindExternalID(ctx, conv.ID, "CH2")
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if Deref(got.ExternalID) != "CH1" {
		t.Fatalf("external id overwritten: %q", Deref(got.ExternalID))
	}

	other, _ := repo.CreateConversation(ctx, Conversation{ContactID: contact.ID})
	if _, err := repo.BindExternalID(ctx, other.ID, "CH1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict binding a used external id, got %v", err)
	}
}

func TestMemoryRepo_CreateConversationRejectsDuplicateExternalID(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	contact, _, _ := repo.InsertOrGetContact(ctx, Contact{Phone: "+1"})
	ext := "CH9"
	if _, err := repo.CreateConversation(ctx, Conversation{ContactID: contact.ID, ExternalID: &ext}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.CreateConversation(ctx, Conversation{ContactID: contact.ID, ExternalID: &ext}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryRepo_RecordMessagesSkipsDuplicatesAndTouchesConversation(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := NewMemoryRepo().WithClock(func() time.Time { return now })
	ctx := context.Background()
	contact, _, _ := repo.InsertOrGetContact(ctx, Contact{Phone: "+1"})
	conv, _ := repo.CreateConversation(ctx, Conversation{ContactID: contact.ID})

	sid := "IM1"
	batch := []Message{
		{Type: MessageTypeImage, ExternalID: &sid, MediaIndex: 0, Body: StringPtr("hi")},
		{Type: MessageTypeMedia, ExternalID: &sid, MediaIndex: 1},
	}
	rows, err := repo.RecordMessages(ctx, conv.ID, batch, RecordOptions{Preview: "hi", IncrementUnread: true})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	got, _ := repo.GetConversation(ctx, conv.ID)
	if Deref(got.LastMessageID) != rows[1].ID || got.UnreadCount != 1 || Deref(got.LastMessagePreview) != "hi" {
		t.Fatalf("unexpected conversation after insert: %+v", got)
	}

	rows, err = repo.RecordMessages(ctx, conv.ID, batch, RecordOptions{Preview: "hi", IncrementUnread: true})
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected duplicates to be skipped, got %d", len(rows))
	}
	got, _ = repo.GetConversation(ctx, conv.ID)
	if got.UnreadCount != 1 {
		t.Fatalf("unread count changed on duplicate delivery: %d", got.UnreadCount)
	}
	if _, _, n := repo.Counts(); n != 2 {
		t.Fatalf("expected 2 stored messages, got %d", n)
	}
}

func TestMemoryRepo_UpdateMessageStatusUnknownIsNoop(t *testing.T) {
	repo := NewMemoryRepo()
	n, err := repo.UpdateMessageStatus(context.Background(), "IMunknown", StringPtr(StatusRead))
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
}

func TestMemoryRepo_ListConversationsOrder(t *testing.T) {
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepo().WithClock(func() time.Time { tick = tick.Add(time.Second); return tick })
	ctx := context.Background()
	a, _, _ := repo.InsertOrGetContact(ctx, Contact{Phone: "+1"})
	b, _, _ := repo.InsertOrGetContact(ctx, Contact{Phone: "+2"})
	ca, _ := repo.CreateConversation(ctx, Conversation{ContactID: a.ID})
	cb, _ := repo.CreateConversation(ctx, Conversation{ContactID: b.ID})

	if _, err := repo.RecordMessages(ctx, ca.ID, []Message{{Body: StringPtr("x")}}, RecordOptions{}); err != nil {
		t.Fatalf("record: %v", err)
	}

	list, err := repo.ListConversations(ctx, ConversationFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != ca.ID || list[1].ID != cb.ID {
		t.Fatalf("expected conversation with messages first")
	}

	list, _ = repo.ListConversations(ctx, ConversationFilter{Order: OrderCreatedAt})
	if list[0].ID != cb.ID {
		t.Fatalf("expected newest created first")
	}

	if _, err := repo.ListConversations(ctx, ConversationFilter{Order: "id; drop table"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid order to be rejected, got %v", err)
	}
}

func TestMemoryRepo_ListContactsSearch(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_, _ = repo.CreateContact(ctx, Contact{Name: "Alice", Phone: "+1"})
	_, _ = repo.CreateContact(ctx, Contact{Name: "Bob", Phone: "+2"})
	if _, err := repo.CreateContact(ctx, Contact{Name: "Dup", Phone: "+2"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	list, _ := repo.ListContacts(ctx, ContactFilter{Search: "ali"})
	if len(list) != 1 || list[0].Name != "Alice" {
		t.Fatalf("unexpected search result: %+v", list)
	}
	list, _ = repo.ListContacts(ctx, ContactFilter{})
	if len(list) != 2 || list[0].Name != "Bob" {
		t.Fatalf("expected newest first: %+v", list)
	}
}

func TestMemoryRepo_ProfileSingleton(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	if _, err := repo.GetProfile(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	p1, _ := repo.SaveProfile(ctx, Profile{FullName: StringPtr("Op")})
	p2, _ := repo.SaveProfile(ctx, Profile{FullName: StringPtr("Op 2")})
	if p1.ID != p2.ID {
		t.Fatalf("expected profile id to be stable")
	}
	got, _ := repo.GetProfile(ctx)
	if Deref(got.FullName) != "Op 2" {
		t.Fatalf("expected updated profile, got %+v", got)
	}
}
