package store

import "time"

// Contact is a remote party, keyed by phone number.
//
// Invariants:
// - phone is unique; reconciliation paths look contacts up by exact phone match.
// - Contacts are never deleted by reconciliation.
type Contact struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	PhotoURL  *string   `json:"photo_url" db:"photo_url"`
	Favorite  bool      `json:"favorite" db:"favorite"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Conversation links a contact to a provider-side conversation.
//
// Invariants:
// - external_id, once set, is never overwritten.
// - last_message_id is a lookup-only reference; deleting the message does not cascade.
type Conversation struct {
	ID                    string     `json:"id" db:"id"`
	ContactID             string     `json:"contact_id" db:"contact_id"`
	ExternalID            *string    `json:"twilio_conversation_sid" db:"external_id"`
	CustomerParticipantID *string    `json:"customer_participant_sid" db:"customer_participant_id"`
	LastMessageID         *string    `json:"last_message_id" db:"last_message_id"`
	LastMessagePreview    *string    `json:"last_message" db:"last_message_preview"`
	LastMessageTime       *time.Time `json:"last_message_time" db:"last_message_time"`
	UnreadCount           int        `json:"unread_count" db:"unread_count"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// HasExternalID reports whether the conversation is bound to a provider conversation.
func (c Conversation) HasExternalID() bool {
	return c.ExternalID != nil && *c.ExternalID != ""
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeMedia MessageType = "media"
)

// Delivery statuses reported by the provider. Stored as the raw provider string.
const (
	StatusQueued      = "queued"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusRead        = "read"
	StatusFailed      = "failed"
	StatusUndelivered = "undelivered"
)

// Message is one provider message, or one media item of a multi-media provider message.
//
// (external_id, media_index) is unique so webhook re-delivery cannot duplicate rows.
type Message struct {
	ID             string      `json:"id" db:"id"`
	ConversationID string      `json:"conversation_id" db:"conversation_id"`
	Sender         string      `json:"sender" db:"sender"`
	Receiver       string      `json:"receiver" db:"receiver"`
	Type           MessageType `json:"type" db:"type"`
	Body           *string     `json:"body" db:"body"`
	ContentURL     *string     `json:"content_url" db:"content_url"`
	Status         *string     `json:"status" db:"status"`
	ExternalID     *string     `json:"twilio_sid" db:"external_id"`
	MediaIndex     int         `json:"media_index" db:"media_index"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// Profile is the single operator profile.
type Profile struct {
	ID                string    `json:"id" db:"id"`
	FullName          *string   `json:"full_name" db:"full_name"`
	PhotoURL          *string   `json:"photo_url" db:"photo_url"`
	Email             *string   `json:"email" db:"email"`
	TwilioPhoneNumber *string   `json:"twilio_phone_number" db:"twilio_phone_number"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// StringPtr returns nil for "" and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
