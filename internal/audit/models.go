package audit

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only reconciliation record.
//
// Invariants:
// - Events are never updated or deleted.
// - Capture is best-effort; do not block reconciliation flows on audit failures.
//
// Storage: table reconciliation_events, INSERT-only.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	// Local identifiers (optional, depending on the event type).
	ContactID      *string `json:"contact_id,omitempty" db:"contact_id"`
	ConversationID *string `json:"conversation_id,omitempty" db:"conversation_id"`

	// Provider identifiers.
	ExternalConversationID *string `json:"external_conversation_id,omitempty" db:"external_conversation_id"`
	ExternalMessageID      *string `json:"external_message_id,omitempty" db:"external_message_id"`

	// Message is a short human-readable description for ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeContactCreated          EventType = "contact_created"
	EventTypeConversationCreated     EventType = "conversation_created"
	EventTypeConversationProvisioned EventType = "conversation_provisioned"
	EventTypeParticipantBound        EventType = "participant_bound"
	// EventTypeOrphanedProviderMessage marks a provider message with no local row.
	EventTypeOrphanedProviderMessage EventType = "orphaned_provider_message"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeContactCreated,
		EventTypeConversationCreated,
		EventTypeConversationProvisioned,
		EventTypeParticipantBound,
		EventTypeOrphanedProviderMessage:
		return true
	default:
		return false
	}
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Cause returns the "error" entry of the metadata, if any.
func (e Event) Cause() string {
	if e.Metadata == "" {
		return ""
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(e.Metadata), &meta); err != nil {
		return ""
	}
	return meta["error"]
}
