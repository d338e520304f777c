package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id, name, age, gender, mood, message_text, moderation_payload, status, created_at, is_fetched, fetched_at`

type MessageRepository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, m *model.Message) (*model.Message, error)
	DequeueNext(ctx context.Context) (*model.Message, error)
	PeekLatestOK(ctx context.Context, limit int) ([]model.Message, error)
	ResetQueue(ctx context.Context) (int64, error)
	ListAll(ctx context.Context) ([]model.Message, error)
	SetStatus(ctx context.Context, id int64, status model.Status) (bool, error)
	RecentOKTexts(ctx context.Context, limit int) ([]string, error)
}

type messageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) MessageRepository {
	return &messageRepo{pool: pool}
}

// EnsureSchema creates the messages table and its dequeue index if missing.
// The schema is final; there is no migration path from older shapes.
func (r *messageRepo) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			age INTEGER,
			gender TEXT,
			mood TEXT,
			message_text TEXT NOT NULL DEFAULT '',
			moderation_payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('ok', 'restricted')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_fetched BOOLEAN NOT NULL DEFAULT FALSE,
			fetched_at TIMESTAMPTZ
		)
	`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_messages_unfetched ON messages (is_fetched, created_at)`
	if _, err := r.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("creating dequeue index: %w", err)
	}
	return nil
}

func (r *messageRepo) Insert(ctx context.Context, m *model.Message) (*model.Message, error) {
	query := `
		INSERT INTO messages (name, age, gender, mood, message_text, moderation_payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	stored := *m
	err := r.pool.QueryRow(ctx, query,
		m.Name,
		m.Age,
		m.Gender,
		m.Mood,
		m.MessageText,
		m.ModerationPayload,
		m.Status,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return &stored, nil
}

// DequeueNext selects the oldest unfetched approved message and marks it
// fetched within a single transaction. FOR UPDATE SKIP LOCKED guarantees that
// concurrent callers never receive the same row; the second caller simply
// skips past the locked row. Returns (nil, nil) when the queue is empty.
func (r *messageRepo) DequeueNext(ctx context.Context) (*model.Message, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning dequeue transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE is_fetched = FALSE AND status = 'ok'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var m model.Message
	err = tx.QueryRow(ctx, query).Scan(
		&m.ID,
		&m.Name,
		&m.Age,
		&m.Gender,
		&m.Mood,
		&m.MessageText,
		&m.ModerationPayload,
		&m.Status,
		&m.CreatedAt,
		&m.IsFetched,
		&m.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting next unfetched message: %w", err)
	}

	mark := `UPDATE messages SET is_fetched = TRUE, fetched_at = NOW() WHERE id = $1 RETURNING fetched_at`
	if err := tx.QueryRow(ctx, mark, m.ID).Scan(&m.FetchedAt); err != nil {
		return nil, fmt.Errorf("marking message %d fetched: %w", m.ID, err)
	}
	m.IsFetched = true

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing dequeue: %w", err)
	}
	return &m, nil
}

func (r *messageRepo) PeekLatestOK(ctx context.Context, limit int) ([]model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = 'ok'
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying latest approved messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ResetQueue clears the fetch mark on every fetched row and reports how many
// rows changed. Calling it again immediately yields zero.
func (r *messageRepo) ResetQueue(ctx context.Context) (int64, error) {
	query := `UPDATE messages SET is_fetched = FALSE, fetched_at = NULL WHERE is_fetched = TRUE`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("resetting queue: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *messageRepo) ListAll(ctx context.Context) ([]model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying all messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SetStatus overwrites the moderation status of one row. Fetch state is left
// untouched: a message restricted after delivery stays recorded as delivered.
// Returns false when no row has the given id.
func (r *messageRepo) SetStatus(ctx context.Context, id int64, status model.Status) (bool, error) {
	query := `UPDATE messages SET status = $1 WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return false, fmt.Errorf("updating status of message %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *messageRepo) RecentOKTexts(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT message_text
		FROM messages
		WHERE status = 'ok' AND message_text <> ''
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent approved texts: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scanning approved text: %w", err)
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating approved texts: %w", err)
	}
	return texts, nil
}

func scanMessages(rows pgx.Rows) ([]model.Message, error) {
	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.Age,
			&m.Gender,
			&m.Mood,
			&m.MessageText,
			&m.ModerationPayload,
			&m.Status,
			&m.CreatedAt,
			&m.IsFetched,
			&m.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
