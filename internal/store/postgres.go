package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/delivery-pipeline/internal/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
id                  TEXT PRIMARY KEY,
channel             TEXT NOT NULL,
sender_email        TEXT NOT NULL DEFAULT '',
sender_name         TEXT NOT NULL DEFAULT '',
recipients          TEXT[] NOT NULL,
cc                  TEXT[],
bcc                 TEXT[],
content             JSONB NOT NULL,
priority            TEXT NOT NULL,
lead_id             TEXT NOT NULL DEFAULT '',
campaign_id         TEXT NOT NULL DEFAULT '',
status              TEXT NOT NULL,
retry_count         INTEGER NOT NULL DEFAULT 0,
error_message       TEXT NOT NULL DEFAULT '',
provider_message_id TEXT NOT NULL DEFAULT '',
created_at          TIMESTAMPTZ NOT NULL,
updated_at          TIMESTAMPTZ NOT NULL,
sent_at             TIMESTAMPTZ,
delivered_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_status_updated_idx ON messages (status, updated_at);
CREATE INDEX IF NOT EXISTS messages_lead_idx ON messages (lead_id) WHERE lead_id <> '';
CREATE INDEX IF NOT EXISTS messages_campaign_idx ON messages (campaign_id) WHERE campaign_id <> '';
CREATE INDEX IF NOT EXISTS messages_provider_message_idx ON messages (provider_message_id) WHERE provider_message_id <> '';
`

const columns = `id, channel, sender_email, sender_name, recipients, cc, bcc, content, priority,
lead_id, campaign_id, status, retry_count, error_message, provider_message_id,
created_at, updated_at, sent_at, delivered_at`

const insertMessage = `
INSERT INTO messages (` + columns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (id) DO NOTHING
`

const updateMessage = `
UPDATE messages SET
channel = $2,
sender_email = $3,
sender_name = $4,
recipients = $5,
cc = $6,
bcc = $7,
content = $8,
priority = $9,
lead_id = $10,
campaign_id = $11,
status = $12,
retry_count = $13,
error_message = $14,
provider_message_id = $15,
created_at = $16,
updated_at = $17,
sent_at = $18,
delivered_at = $19
WHERE id = $1
`

const selectByID = `SELECT ` + columns + ` FROM messages WHERE id = $1`

const selectByStatus = `SELECT ` + columns + ` FROM messages WHERE status = $1 ORDER BY created_at, id LIMIT $2`

const selectByCorrelation = `SELECT ` + columns + ` FROM messages
WHERE ($1::text = '' OR lead_id = $1) AND ($2::text = '' OR campaign_id = $2)
ORDER BY created_at, id`

const selectByProviderID = `SELECT ` + columns + ` FROM messages WHERE provider_message_id = $1 LIMIT 1`

const selectStranded = `SELECT ` + columns + ` FROM messages
WHERE updated_at < $1 AND (status = 'pending' OR (status = 'failed' AND retry_count < $2))
ORDER BY updated_at, id LIMIT $3`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var ErrNotConfigured = errors.New("postgres store requires a non-nil pool")

func OpenPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	return NewPostgresStore(pool), nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return &message.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, msg *message.Message) error {
	args, err := recordArgs(msg.Record())
	if err != nil {
		return &message.StoreError{Op: "save", Err: err}
	}
	tag, err := s.pool.Exec(ctx, insertMessage, args...)
	if err != nil {
		return &message.StoreError{Op: "save", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return message.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*message.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, selectByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, message.ErrNotFound
		}
		return nil, &message.StoreError{Op: "find by id", Err: err}
	}
	return msg, nil
}

func (s *PostgresStore) Update(ctx context.Context, msg *message.Message) error {
	args, err := recordArgs(msg.Record())
	if err != nil {
		return &message.StoreError{Op: "update", Err: err}
	}
	tag, err := s.pool.Exec(ctx, updateMessage, args...)
	if err != nil {
		return &message.StoreError{Op: "update", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status message.Status, limit int) ([]*message.Message, error) {
	return s.query(ctx, "find by status", selectByStatus, string(status), normalizeLimit(limit))
}

func (s *PostgresStore) FindByCorrelation(ctx context.Context, ref message.CorrelationRef) ([]*message.Message, error) {
	if ref.Empty() {
		return nil, nil
	}
	return s.query(ctx, "find by correlation", selectByCorrelation, ref.LeadID, ref.CampaignID)
}

func (s *PostgresStore) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*message.Message, error) {
	if providerMessageID == "" {
		return nil, message.ErrNotFound
	}
	msg, err := scanMessage(s.pool.QueryRow(ctx, selectByProviderID, providerMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, message.ErrNotFound
		}
		return nil, &message.StoreError{Op: "find by provider id", Err: err}
	}
	return msg, nil
}

func (s *PostgresStore) FindStranded(ctx context.Context, before time.Time, limit int) ([]*message.Message, error) {
	return s.query(ctx, "find stranded", selectStranded, before, message.MaxRetries, normalizeLimit(limit))
}

func (s *PostgresStore) query(ctx context.Context, op, sql string, args ...any) ([]*message.Message, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &message.StoreError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []*message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, &message.StoreError{Op: op, Err: err}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &message.StoreError{Op: op, Err: err}
	}
	return out, nil
}

func recordArgs(r message.Record) ([]any, error) {
	content, err := json.Marshal(r.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	return []any{
		r.ID,
		string(r.Channel),
		r.Sender.Email,
		r.Sender.Name,
		r.Recipients,
		r.Cc,
		r.Bcc,
		content,
		string(r.Priority),
		r.Correlation.LeadID,
		r.Correlation.CampaignID,
		string(r.Status),
		r.RetryCount,
		r.ErrorMessage,
		r.ProviderMessageID,
		r.CreatedAt,
		r.UpdatedAt,
		r.SentAt,
		r.DeliveredAt,
	}, nil
}

func scanMessage(row pgx.Row) (*message.Message, error) {
	var (
		r           message.Record
		channel     string
		priority    string
		status      string
		contentJSON []byte
	)
	if err := row.Scan(
		&r.ID,
		&channel,
		&r.Sender.Email,
		&r.Sender.Name,
		&r.Recipients,
		&r.Cc,
		&r.Bcc,
		&contentJSON,
		&priority,
		&r.Correlation.LeadID,
		&r.Correlation.CampaignID,
		&status,
		&r.RetryCount,
		&r.ErrorMessage,
		&r.ProviderMessageID,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.SentAt,
		&r.DeliveredAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contentJSON, &r.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	r.Channel = message.Channel(channel)
	r.Priority = message.Priority(priority)
	r.Status = message.Status(status)
	return message.FromRecord(r), nil
}
