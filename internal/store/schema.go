package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema contains all relay table definitions. Every statement is idempotent.
//
// Tables:
//   - contacts - remote parties, unique by phone
//   - conversations - local threads bound to provider conversations
//   - messages - one row per provider message or media item
//   - profiles - single operator profile
//   - reconciliation_events - append-only reconciliation audit trail
const schema = `
CREATE TABLE IF NOT EXISTS contacts (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    phone TEXT NOT NULL,
    photo_url TEXT,
    favorite BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS contacts_phone_key ON contacts (phone);

CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY,
    contact_id UUID NOT NULL REFERENCES contacts (id),
    external_id TEXT,
    customer_participant_id TEXT,
    -- lookup-only reference, no FK so message deletes never cascade
    last_message_id UUID,
    last_message_preview TEXT,
    last_message_time TIMESTAMPTZ,
    unread_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS conversations_external_id_key
    ON conversations (external_id) WHERE external_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS conversations_contact_id_idx ON conversations (contact_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations (id),
    sender TEXT NOT NULL,
    receiver TEXT NOT NULL,
    type TEXT NOT NULL CHECK (type IN ('text', 'image', 'media')),
    body TEXT,
    content_url TEXT,
    status TEXT,
    external_id TEXT,
    media_index INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT messages_external_id_media_index_key UNIQUE (external_id, media_index)
);
CREATE INDEX IF NOT EXISTS messages_conversation_id_idx ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS profiles (
    id UUID PRIMARY KEY,
    full_name TEXT,
    photo_url TEXT,
    email TEXT,
    twilio_phone_number TEXT,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reconciliation_events (
    id UUID PRIMARY KEY,
    type TEXT NOT NULL,
    contact_id UUID,
    conversation_id UUID,
    external_conversation_id TEXT,
    external_message_id TEXT,
    message TEXT,
    metadata TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS reconciliation_events_type_idx ON reconciliation_events (type, created_at);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db sqlx.ExecerContext) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
