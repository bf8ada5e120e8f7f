package reporting

import "time"

// DeliverySummary aggregates message statuses of one conversation.
type DeliverySummary struct {
	ConversationID         string `json:"conversation_id"`
	ExternalConversationID string `json:"twilio_conversation_sid,omitempty"`

	TotalMessages int `json:"total_messages"`
	Queued        int `json:"queued"`
	Sent          int `json:"sent"`
	Delivered     int `json:"delivered"`
	Read          int `json:"read"`
	Failed        int `json:"failed"`
	Undelivered   int `json:"undelivered"`
	// Unknown counts rows without a status or with one the provider added later.
	Unknown int `json:"unknown"`

	// DeliveryRate is (delivered + read) / total.
	DeliveryRate float64 `json:"delivery_rate"`
}

// InboxSummary is an overview across conversations.
type InboxSummary struct {
	Conversations       int        `json:"conversations"`
	UnreadConversations int        `json:"unread_conversations"`
	UnreadMessages      int        `json:"unread_messages"`
	Unprovisioned       int        `json:"unprovisioned"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`
}
