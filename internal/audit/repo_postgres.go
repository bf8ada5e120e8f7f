package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo stores events in reconciliation_events.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO reconciliation_events (
  id, type, contact_id, conversation_id, external_conversation_id, external_message_id, message, metadata, created_at
) VALUES (
  :id, :type, :contact_id, :conversation_id, :external_conversation_id, :external_message_id, :message, :metadata, :created_at
)
`
	_, err := r.db.NamedExecContext(ctx, q, e)
	return err
}

// List returns the newest events first. An empty type lists all events.
func (r *PostgresRepo) List(ctx context.Context, t EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, type, contact_id, conversation_id, external_conversation_id, external_message_id,
       COALESCE(message, '') AS message, COALESCE(metadata, '') AS metadata, created_at
FROM reconciliation_events
WHERE $1 = '' OR type = $1
ORDER BY created_at DESC
LIMIT $2
`
	out := []Event{}
	err := r.db.SelectContext(ctx, &out, q, string(t), limit)
	return out, err
}
