package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-relay/pkg/utils"
)

const (
	contactCols      = `id, name, phone, photo_url, favorite, created_at`
	conversationCols = `id, contact_id, external_id, customer_participant_id, last_message_id,
       last_message_preview, last_message_time, unread_count, created_at, updated_at`
	messageCols = `id, conversation_id, sender, receiver, type, body, content_url, status,
       external_id, media_index, created_at`
	profileCols = `id, full_name, photo_url, email, twilio_phone_number, updated_at`
)

// PostgresRepo implements Repository on Postgres through sqlx and the pgx driver.
type PostgresRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) now() time.Time { return r.clock().UTC() }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (Contact, error) {
	var c Contact
	err := r.db.GetContext(ctx, &c, `SELECT `+contactCols+` FROM contacts WHERE phone = $1`, phone)
	return c, notFound(err)
}

func (r *PostgresRepo) GetContact(ctx context.Context, id string) (Contact, error) {
	var c Contact
	err := r.db.GetContext(ctx, &c, `SELECT `+contactCols+` FROM contacts WHERE id = $1`, id)
	return c, notFound(err)
}

func (r *PostgresRepo) InsertOrGetContact(ctx context.Context, c Contact) (Contact, bool, error) {
	if c.Phone == "" {
		return Contact{}, false, ErrInvalidArgument
	}
	c = r.prepareContact(c)

	// DO NOTHING returns no row on conflict; the follow-up read sees the committed winner.
	const q = `
INSERT INTO contacts (id, name, phone, photo_url, favorite, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (phone) DO NOTHING
RETURNING ` + contactCols
	var out Contact
	err := r.db.QueryRowxContext(ctx, q, c.ID, c.Name, c.Phone, c.PhotoURL, c.Favorite, c.CreatedAt).StructScan(&out)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Contact{}, false, err
	}
	out, err = r.FindContactByPhone(ctx, c.Phone)
	return out, false, err
}

func (r *PostgresRepo) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	if c.Phone == "" {
		return Contact{}, ErrInvalidArgument
	}
	c = r.prepareContact(c)
	const q = `
INSERT INTO contacts (id, name, phone, photo_url, favorite, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING ` + contactCols
	var out Contact
	err := r.db.QueryRowxContext(ctx, q, c.ID, c.Name, c.Phone, c.PhotoURL, c.Favorite, c.CreatedAt).StructScan(&out)
	if utils.IsUniqueViolation(err) {
		return Contact{}, ErrConflict
	}
	return out, err
}

func (r *PostgresRepo) prepareContact(c Contact) Contact {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = c.Phone
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	return c
}

func (r *PostgresRepo) UpdateContact(ctx context.Context, id string, p ContactPatch) (Contact, error) {
	const q = `
UPDATE contacts SET
  name = COALESCE($2, name),
  phone = COALESCE($3, phone),
  photo_url = COALESCE($4, photo_url),
  favorite = COALESCE($5, favorite)
WHERE id = $1
RETURNING ` + contactCols
	var out Contact
	err := r.db.QueryRowxContext(ctx, q, id, p.Name, p.Phone, p.PhotoURL, p.Favorite).StructScan(&out)
	if utils.IsUniqueViolation(err) {
		return Contact{}, ErrConflict
	}
	return out, notFound(err)
}

func (r *PostgresRepo) ListContacts(ctx context.Context, f ContactFilter) ([]Contact, error) {
	out := []Contact{}
	err := r.db.SelectContext(ctx, &out, `
SELECT `+contactCols+`
FROM contacts
WHERE name ILIKE '%' || $1 || '%'
ORDER BY created_at DESC
`, f.Search)
	return out, err
}

func (r *PostgresRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := r.db.GetContext(ctx, &c, `SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
	return c, notFound(err)
}

func (r *PostgresRepo) FindConversationByContact(ctx context.Context, contactID string) (Conversation, error) {
	var c Conversation
	err := r.db.GetContext(ctx, &c, `
SELECT `+conversationCols+`
FROM conversations
WHERE contact_id = $1
ORDER BY created_at ASC
LIMIT 1
`, contactID)
	return c, notFound(err)
}

func (r *PostgresRepo) FindConversationByExternalID(ctx context.Context, externalID string) (Conversation, error) {
	var c Conversation
	err := r.db.GetContext(ctx, &c, `SELECT `+conversationCols+` FROM conversations WHERE external_id = $1`, externalID)
	return c, notFound(err)
}

func (r *PostgresRepo) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ContactID == "" {
		return Conversation{}, ErrInvalidArgument
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
	const q = `
INSERT INTO conversations (
  id, contact_id, external_id, customer_participant_id, last_message_id,
  last_message_preview, last_message_time, unread_count, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
RETURNING ` + conversationCols
	var out Conversation
	err := r.db.QueryRowxContext(ctx, q,
		c.ID,
		c.ContactID,
		c.ExternalID,
		c.CustomerParticipantID,
		c.LastMessageID,
		c.LastMessagePreview,
		c.LastMessageTime,
		c.UnreadCount,
		c.CreatedAt,
		c.UpdatedAt,
	).StructScan(&out)
	if utils.IsUniqueViolation(err) {
		return Conversation{}, ErrConflict
	}
	return out, err
}

func (r *PostgresRepo) BindExternalID(ctx context.Context, id, externalID string) (Conversation, error) {
	if externalID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	const q = `
UPDATE conversations
SET external_id = $2, updated_at = $3
WHERE id = $1 AND external_id IS NULL
RETURNING ` + conversationCols
	var out Conversation
	err := r.db.QueryRowxContext(ctx, q, id, externalID, r.now()).StructScan(&out)
	switch {
	case err == nil:
		return out, nil
	case utils.IsUniqueViolation(err):
		return Conversation{}, ErrConflict
	case errors.Is(err, sql.ErrNoRows):
		// Already bound (or missing): report what is stored.
		return r.GetConversation(ctx, id)
	default:
		return Conversation{}, err
	}
}

func (r *PostgresRepo) SetCustomerParticipant(ctx context.Context, id, participantID string) (Conversation, error) {
	if participantID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	const q = `
UPDATE conversations
SET customer_participant_id = $2, updated_at = $3
WHERE id = $1 AND customer_participant_id IS NULL
RETURNING ` + conversationCols
	var out Conversation
	err := r.db.QueryRowxContext(ctx, q, id, participantID, r.now()).StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetConversation(ctx, id)
	}
	return out, err
}

func (r *PostgresRepo) UpdateConversation(ctx context.Context, id string, p ConversationPatch) (Conversation, error) {
	const q = `
UPDATE conversations SET
  last_message_preview = COALESCE($2, last_message_preview),
  last_message_time = COALESCE($3, last_message_time),
  unread_count = COALESCE($4, unread_count),
  updated_at = $5
WHERE id = $1
RETURNING ` + conversationCols
	var out Conversation
	err := r.db.QueryRowxContext(ctx, q, id, p.LastMessagePreview, p.LastMessageTime, p.UnreadCount, r.now()).StructScan(&out)
	return out, notFound(err)
}

func (r *PostgresRepo) ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error) {
	order := f.Order
	if order == "" {
		order = OrderLastMessageTime
	}
	if !order.Valid() {
		return nil, fmt.Errorf("%w: order %q", ErrInvalidArgument, order)
	}
	// order is whitelisted above.
	q := `SELECT ` + conversationCols + ` FROM conversations`
	var args []any
	if f.ContactID != "" {
		q += ` WHERE contact_id = $1`
		args = append(args, f.ContactID)
	}
	q += ` ORDER BY ` + string(order) + ` DESC NULLS LAST, created_at DESC`

	out := []Conversation{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

func (r *PostgresRepo) RecordMessages(ctx context.Context, conversationID string, msgs []Message, opts RecordOptions) ([]Message, error) {
	if conversationID == "" || len(msgs) == 0 {
		return nil, ErrInvalidArgument
	}
	at := opts.At
	if at.IsZero() {
		at = r.now()
	}

	var inserted []Message
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		inserted = inserted[:0]
		for _, m := range msgs {
			m.ConversationID = conversationID
			m = r.prepareMessage(m, at)
			row, ok, err := insertMessageTx(ctx, tx, m)
			if err != nil {
				return err
			}
			if ok {
				inserted = append(inserted, row)
			}
		}
		if len(inserted) == 0 {
			return nil
		}

		unread := 0
		if opts.IncrementUnread {
			unread = 1
		}
		const q = `
UPDATE conversations SET
  last_message_id = $2,
  last_message_preview = $3,
  last_message_time = $4,
  unread_count = unread_count + $5,
  updated_at = $4
WHERE id = $1
`
		res, err := tx.ExecContext(ctx, q, conversationID, inserted[len(inserted)-1].ID, StringPtr(opts.Preview), at, unread)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// insertMessageTx reports ok=false when (external_id, media_index) already exists.
func insertMessageTx(ctx context.Context, tx *sqlx.Tx, m Message) (Message, bool, error) {
	const q = `
INSERT INTO messages (
  id, conversation_id, sender, receiver, type, body, content_url, status, external_id, media_index, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (external_id, media_index) DO NOTHING
RETURNING ` + messageCols
	var out Message
	err := tx.QueryRowxContext(ctx, q,
		m.ID,
		m.ConversationID,
		m.Sender,
		m.Receiver,
		m.Type,
		m.Body,
		m.ContentURL,
		m.Status,
		m.ExternalID,
		m.MediaIndex,
		m.CreatedAt,
	).StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return out, true, nil
}

func (r *PostgresRepo) prepareMessage(m Message, at time.Time) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = MessageTypeText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = at
	}
	return m
}

func (r *PostgresRepo) CreateMessage(ctx context.Context, m Message) (Message, error) {
	if m.ConversationID == "" {
		return Message{}, ErrInvalidArgument
	}
	m = r.prepareMessage(m, r.now())
	var (
		out Message
		ok  bool
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		out, ok, err = insertMessageTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, ErrConflict
	}
	return out, nil
}

func (r *PostgresRepo) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	out := []Message{}
	err := r.db.SelectContext(ctx, &out, `
SELECT `+messageCols+`
FROM messages
WHERE conversation_id = $1
ORDER BY created_at ASC, media_index ASC
`, conversationID)
	return out, err
}

func (r *PostgresRepo) UpdateMessageStatus(ctx context.Context, externalID string, status *string) (int64, error) {
	if externalID == "" {
		return 0, ErrInvalidArgument
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status = $2 WHERE external_id = $1`, externalID, status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) CountMessagesByStatus(ctx context.Context, conversationID string) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
SELECT COALESCE(status, '') AS status, COUNT(*) AS n
FROM messages
WHERE conversation_id = $1
GROUP BY COALESCE(status, '')
`, conversationID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func (r *PostgresRepo) GetProfile(ctx context.Context) (Profile, error) {
	var p Profile
	err := r.db.GetContext(ctx, &p, `SELECT `+profileCols+` FROM profiles ORDER BY updated_at ASC LIMIT 1`)
	return p, notFound(err)
}

func (r *PostgresRepo) SaveProfile(ctx context.Context, p Profile) (Profile, error) {
	var out Profile
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var existing Profile
		err := tx.GetContext(ctx, &existing, `SELECT `+profileCols+` FROM profiles ORDER BY updated_at ASC LIMIT 1 FOR UPDATE`)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			p.ID = uuid.NewString()
		case err != nil:
			return err
		default:
			p.ID = existing.ID
		}
		p.UpdatedAt = r.now()

		const q = `
INSERT INTO profiles (id, full_name, photo_url, email, twilio_phone_number, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  full_name = EXCLUDED.full_name,
  photo_url = EXCLUDED.photo_url,
  email = EXCLUDED.email,
  twilio_phone_number = EXCLUDED.twilio_phone_number,
  updated_at = EXCLUDED.updated_at
RETURNING ` + profileCols
		return tx.QueryRowxContext(ctx, q, p.ID, p.FullName, p.PhotoURL, p.Email, p.TwilioPhoneNumber, p.UpdatedAt).StructScan(&out)
	})
	if err != nil {
		return Profile{}, err
	}
	return out, nil
}
