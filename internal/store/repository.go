package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write would break a uniqueness invariant.
	ErrConflict        = errors.New("store: conflict")
	ErrInvalidArgument = errors.New("store: invalid argument")
)

type ContactFilter struct {
	// Search is a case-insensitive substring of the contact name.
	Search string
}

type ContactPatch struct {
	Name     *string
	Phone    *string
	PhotoURL *string
	Favorite *bool
}

// ConversationOrder is the descending sort column of ListConversations.
type ConversationOrder string

const (
	OrderLastMessageTime ConversationOrder = "last_message_time"
	OrderUpdatedAt       ConversationOrder = "updated_at"
	OrderCreatedAt       ConversationOrder = "created_at"
)

func (o ConversationOrder) Valid() bool {
	switch o {
	case OrderLastMessageTime, OrderUpdatedAt, OrderCreatedAt:
		return true
	default:
		return false
	}
}

type ConversationFilter struct {
	ContactID string
	Order     ConversationOrder
}

type ConversationPatch struct {
	LastMessagePreview *string
	LastMessageTime    *time.Time
	UnreadCount        *int
}

// RecordOptions controls the conversation update made by RecordMessages.
type RecordOptions struct {
	Preview         string
	At              time.Time
	IncrementUnread bool
}

// Repository is the record store gateway.
//
// Implementations must:
// - make InsertOrGetContact atomic on phone.
// - make BindExternalID conditional on external_id being unset.
// - make RecordMessages skip rows whose (external_id, media_index) already exist,
//   and apply the message inserts and conversation update atomically.
type Repository interface {
	FindContactByPhone(ctx context.Context, phone string) (Contact, error)
	GetContact(ctx context.Context, id string) (Contact, error)
	// InsertOrGetContact returns the stored contact for c.Phone and whether this call created it.
	InsertOrGetContact(ctx context.Context, c Contact) (Contact, bool, error)
	CreateContact(ctx context.Context, c Contact) (Contact, error)
	UpdateContact(ctx context.Context, id string, p ContactPatch) (Contact, error)
	ListContacts(ctx context.Context, f ContactFilter) ([]Contact, error)

	GetConversation(ctx context.Context, id string) (Conversation, error)
	// FindConversationByContact returns the oldest conversation of the contact.
	FindConversationByContact(ctx context.Context, contactID string) (Conversation, error)
	FindConversationByExternalID(ctx context.Context, externalID string) (Conversation, error)
	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	// BindExternalID sets external_id only when unset and returns the stored row,
	// which carries the previously bound id if another writer got there first.
	BindExternalID(ctx context.Context, id, externalID string) (Conversation, error)
	// SetCustomerParticipant sets customer_participant_id only when unset.
	SetCustomerParticipant(ctx context.Context, id, participantID string) (Conversation, error)
	UpdateConversation(ctx context.Context, id string, p ConversationPatch) (Conversation, error)
	ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error)

	// RecordMessages inserts msgs in order and, when at least one row was new,
	// points the conversation at the last inserted row. It returns the inserted rows only.
	RecordMessages(ctx context.Context, conversationID string, msgs []Message, opts RecordOptions) ([]Message, error)
	CreateMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// UpdateMessageStatus sets status on every row with the external id and returns the row count.
	UpdateMessageStatus(ctx context.Context, externalID string, status *string) (int64, error)
	CountMessagesByStatus(ctx context.Context, conversationID string) (map[string]int, error)

	// GetProfile returns ErrNotFound when no profile was saved yet.
	GetProfile(ctx context.Context) (Profile, error)
	SaveProfile(ctx context.Context, p Profile) (Profile, error)
}
