package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and local development.
// It enforces the same uniqueness rules as the Postgres schema.
type MemoryRepo struct {
	mu sync.Mutex

	contacts      map[string]Contact
	conversations map[string]Conversation
	messages      []Message
	profile       *Profile

	// seq orders rows created within the same clock tick.
	seq   int
	order map[string]int

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		contacts:      map[string]Contact{},
		conversations: map[string]Conversation{},
		order:         map[string]int{},
		clock:         time.Now,
	}
}

// WithClock overrides the time source.
func (r *MemoryRepo) WithClock(clock func() time.Time) *MemoryRepo {
	r.clock = clock
	return r
}

func (r *MemoryRepo) now() time.Time { return r.clock().UTC() }

func (r *MemoryRepo) track(id string) {
	r.seq++
	r.order[id] = r.seq
}

func (r *MemoryRepo) FindContactByPhone(ctx context.Context, phone string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.Phone == phone {
			return c, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (r *MemoryRepo) GetContact(ctx context.Context, id string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) InsertOrGetContact(ctx context.Context, c Contact) (Contact, bool, error) {
	if c.Phone == "" {
		return Contact{}, false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.contacts {
		if existing.Phone == c.Phone {
			return existing, false, nil
		}
	}
	c = r.insertContactLocked(c)
	return c, true, nil
}

func (r *MemoryRepo) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	if c.Phone == "" {
		return Contact{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.contacts {
		if existing.Phone == c.Phone {
			return Contact{}, ErrConflict
		}
	}
	return r.insertContactLocked(c), nil
}

func (r *MemoryRepo) insertContactLocked(c Contact) Contact {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = c.Phone
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	r.contacts[c.ID] = c
	r.track(c.ID)
	return c
}

func (r *MemoryRepo) UpdateContact(ctx context.Context, id string, p ContactPatch) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	if p.Phone != nil && *p.Phone != c.Phone {
		for _, other := range r.contacts {
			if other.Phone == *p.Phone {
				return Contact{}, ErrConflict
			}
		}
		c.Phone = *p.Phone
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.PhotoURL != nil {
		c.PhotoURL = p.PhotoURL
	}
	if p.Favorite != nil {
		c.Favorite = *p.Favorite
	}
	r.contacts[id] = c
	return c, nil
}

func (r *MemoryRepo) ListContacts(ctx context.Context, f ContactFilter) ([]Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := strings.ToLower(f.Search)
	out := make([]Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		if needle != "" && !strings.Contains(strings.ToLower(c.Name), needle) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].ID] > r.order[out[j].ID] })
	return out, nil
}

func (r *MemoryRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindConversationByContact(ctx context.Context, contactID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		found Conversation
		best  = -1
	)
	for _, c := range r.conversations {
		if c.ContactID != contactID {
			continue
		}
		if o := r.order[c.ID]; best < 0 || o < best {
			found, best = c, o
		}
	}
	if best < 0 {
		return Conversation{}, ErrNotFound
	}
	return found, nil
}

func (r *MemoryRepo) FindConversationByExternalID(ctx context.Context, externalID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byExternalLocked(externalID); ok {
		return c, nil
	}
	return Conversation{}, ErrNotFound
}

func (r *MemoryRepo) byExternalLocked(externalID string) (Conversation, bool) {
	for _, c := range r.conversations {
		if c.ExternalID != nil && *c.ExternalID == externalID {
			return c, true
		}
	}
	return Conversation{}, false
}

func (r *MemoryRepo) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ContactID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[c.ContactID]; !ok {
		return Conversation{}, fmt.Errorf("%w: unknown contact %s", ErrInvalidArgument, c.ContactID)
	}
	if c.HasExternalID() {
		if _, ok := r.byExternalLocked(*c.ExternalID); ok {
			return Conversation{}, ErrConflict
		}
	}
	now := r.now()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	r.conversations[c.ID] = c
	r.track(c.ID)
	return c, nil
}

func (r *MemoryRepo) BindExternalID(ctx context.Context, id, externalID string) (Conversation, error) {
	if externalID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if c.HasExternalID() {
		return c, nil
	}
	if other, ok := r.byExternalLocked(externalID); ok && other.ID != id {
		return Conversation{}, ErrConflict
	}
	c.ExternalID = &externalID
	c.UpdatedAt = r.now()
	r.conversations[id] = c
	return c, nil
}

func (r *MemoryRepo) SetCustomerParticipant(ctx context.Context, id, participantID string) (Conversation, error) {
	if participantID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if c.CustomerParticipantID != nil {
		return c, nil
	}
	c.CustomerParticipantID = &participantID
	c.UpdatedAt = r.now()
	r.conversations[id] = c
	return c, nil
}

func (r *MemoryRepo) UpdateConversation(ctx context.Context, id string, p ConversationPatch) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if p.LastMessagePreview != nil {
		c.LastMessagePreview = p.LastMessagePreview
	}
	if p.LastMessageTime != nil {
		c.LastMessageTime = p.LastMessageTime
	}
	if p.UnreadCount != nil {
		c.UnreadCount = *p.UnreadCount
	}
	c.UpdatedAt = r.now()
	r.conversations[id] = c
	return c, nil
}

func (r *MemoryRepo) ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error) {
	order := f.Order
	if order == "" {
		order = OrderLastMessageTime
	}
	if !order.Valid() {
		return nil, fmt.Errorf("%w: order %q", ErrInvalidArgument, order)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		if f.ContactID != "" && c.ContactID != f.ContactID {
			continue
		}
		out = append(out, c)
	}
	key := func(c Conversation) *time.Time {
		switch order {
		case OrderUpdatedAt:
			return &c.UpdatedAt
		case OrderCreatedAt:
			return &c.CreatedAt
		default:
			return c.LastMessageTime
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return r.order[out[i].ID] > r.order[out[j].ID]
	})
	return out, nil
}

func (r *MemoryRepo) RecordMessages(ctx context.Context, conversationID string, msgs []Message, opts RecordOptions) ([]Message, error) {
	if conversationID == "" || len(msgs) == 0 {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	at := opts.At
	if at.IsZero() {
		at = r.now()
	}

	var inserted []Message
	for _, m := range msgs {
		m.ConversationID = conversationID
		if r.duplicateLocked(m) {
			continue
		}
		inserted = append(inserted, r.insertMessageLocked(m, at))
	}
	if len(inserted) == 0 {
		return nil, nil
	}

	last := inserted[len(inserted)-1].ID
	conv.LastMessageID = &last
	conv.LastMessagePreview = StringPtr(opts.Preview)
	conv.LastMessageTime = &at
	conv.UpdatedAt = at
	if opts.IncrementUnread {
		conv.UnreadCount++
	}
	r.conversations[conversationID] = conv
	return inserted, nil
}

func (r *MemoryRepo) duplicateLocked(m Message) bool {
	if m.ExternalID == nil {
		return false
	}
	for _, existing := range r.messages {
		if existing.ExternalID != nil && *existing.ExternalID == *m.ExternalID && existing.MediaIndex == m.MediaIndex {
			return true
		}
	}
	return false
}

func (r *MemoryRepo) insertMessageLocked(m Message, at time.Time) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = MessageTypeText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = at
	}
	r.messages = append(r.messages, m)
	r.track(m.ID)
	return m
}

func (r *MemoryRepo) CreateMessage(ctx context.Context, m Message) (Message, error) {
	if m.ConversationID == "" {
		return Message{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[m.ConversationID]; !ok {
		return Message{}, fmt.Errorf("%w: unknown conversation %s", ErrInvalidArgument, m.ConversationID)
	}
	if r.duplicateLocked(m) {
		return Message{}, ErrConflict
	}
	return r.insertMessageLocked(m, r.now()), nil
}

func (r *MemoryRepo) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].MediaIndex < out[j].MediaIndex
	})
	return out, nil
}

func (r *MemoryRepo) UpdateMessageStatus(ctx context.Context, externalID string, status *string) (int64, error) {
	if externalID == "" {
		return 0, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i, m := range r.messages {
		if m.ExternalID != nil && *m.ExternalID == externalID {
			r.messages[i].Status = status
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) CountMessagesByStatus(ctx context.Context, conversationID string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out[Deref(m.Status)]++
		}
	}
	return out, nil
}

func (r *MemoryRepo) GetProfile(ctx context.Context) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return Profile{}, ErrNotFound
	}
	return *r.profile, nil
}

func (r *MemoryRepo) SaveProfile(ctx context.Context, p Profile) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile != nil {
		p.ID = r.profile.ID
	} else {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = r.now()
	r.profile = &p
	return p, nil
}

// Counts returns the number of stored contacts, conversations and messages.
func (r *MemoryRepo) Counts() (contacts, conversations, messages int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contacts), len(r.conversations), len(r.messages)
}
