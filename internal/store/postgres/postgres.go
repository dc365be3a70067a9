// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres implements store.Store on a pgx connection pool.
//
// Every insert that can lose a race uses ON CONFLICT DO NOTHING and reports
// a zero row count as store.ErrConflict, so a losing transaction stays
// usable and the caller can re-read the winner.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
)

const uniqueViolation = "23505"

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the Postgres-backed store.Store.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool for databaseURL and prepares the schema.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates a store backed by the given pool.
// It ensures the helpdesk tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{queries: queries{db: pool}, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("ensure helpdesk schema: %w", err)
	}
	slog.Info("helpdesk store initialised")
	return s, nil
}

// Migrate creates the contacts, conversations, messages and raw_emails
// tables and their indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS contacts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL UNIQUE,
			company_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_email_lower ON contacts(lower(email));

		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			contact_id       TEXT NOT NULL REFERENCES contacts(id),
			subject          TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'open',
			priority         TEXT NOT NULL DEFAULT 'medium',
			last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			unread           BOOLEAN NOT NULL DEFAULT TRUE,
			read_at          TIMESTAMPTZ,
			case_number      TEXT NOT NULL UNIQUE,
			assigned_to      TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_contact_subject ON conversations(contact_id, subject);
		CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			type            TEXT NOT NULL,
			content         TEXT NOT NULL,
			message_id      TEXT,
			in_reply_to     TEXT,
			"references"    TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS raw_emails (
			id          TEXT PRIMARY KEY,
			message_id  TEXT NOT NULL UNIQUE,
			message_ref TEXT REFERENCES messages(id) ON DELETE SET NULL,
			headers     JSON,
			payload     JSON NOT NULL,
			raw_content TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// WithTx runs fn inside a transaction that commits only if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(store.Queries) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// queries implements store.Queries over either the pool or a transaction.
type queries struct {
	db dbtx
}

// Savepoint opens a nested transaction. On a pool this is a plain
// transaction; inside pgx.Tx it is a SAVEPOINT.
func (q *queries) Savepoint(ctx context.Context, fn func(store.Queries) error) error {
	return pgx.BeginFunc(ctx, q.db, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
}

const contactColumns = `id, name, email, company_id, created_at, updated_at`

func (q *queries) FindContactByEmail(ctx context.Context, email string, caseInsensitive bool) (*models.Contact, error) {
	sql := `SELECT ` + contactColumns + ` FROM contacts WHERE email = $1`
	if caseInsensitive {
		sql = `SELECT ` + contactColumns + ` FROM contacts
			WHERE lower(email) = lower($1)
			ORDER BY created_at, id
			LIMIT 1`
	}
	return scanContact(q.db.QueryRow(ctx, sql, email))
}

func (q *queries) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	return scanContact(q.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
}

func (q *queries) CreateContact(ctx context.Context, c *models.Contact) error {
	if c.ID == "" {
		c.ID = store.NewID()
	}
	now := time.Now().UTC()
	tag, err := q.db.Exec(ctx, `
		INSERT INTO contacts (id, name, email, company_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO NOTHING
	`, c.ID, c.Name, c.Email, c.CompanyID, now)
	if err := insertResult(tag, err); err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

const conversationColumns = `id, contact_id, subject, status, priority, last_activity_at,
	unread, read_at, case_number, assigned_to, created_at, updated_at`

func (q *queries) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(q.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
}

func (q *queries) FindActiveConversationBySubject(ctx context.Context, contactID string, subjects []string) (*models.Conversation, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE contact_id = $1 AND status <> 'closed' AND subject = ANY($2)
		ORDER BY last_activity_at DESC, id DESC
		LIMIT 1
	`, contactID, subjects)
	return scanConversation(row)
}

func (q *queries) CaseNumberExists(ctx context.Context, caseNumber string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE case_number = $1)`, caseNumber,
	).Scan(&exists)
	return exists, err
}

func (q *queries) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.CaseNumber == "" {
		return fmt.Errorf("insert conversation: case number is required")
	}
	if c.ID == "" {
		c.ID = store.NewID()
	}
	now := time.Now().UTC()
	tag, err := q.db.Exec(ctx, `
		INSERT INTO conversations
			(id, contact_id, subject, status, priority, last_activity_at,
			 unread, read_at, case_number, assigned_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (case_number) DO NOTHING
	`, c.ID, c.ContactID, c.Subject, string(c.Status), string(c.Priority), c.LastActivityAt,
		c.Unread, c.ReadAt, c.CaseNumber, c.AssignedTo, now)
	if err := insertResult(tag, err); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// UpdateConversation writes the mutable columns. case_number and
// created_at are never written and are refreshed on c from the row.
func (q *queries) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	now := time.Now().UTC()
	err := q.db.QueryRow(ctx, `
		UPDATE conversations
		SET subject = $2, status = $3, priority = $4, last_activity_at = $5,
		    unread = $6, read_at = $7, assigned_to = $8, updated_at = $9
		WHERE id = $1
		RETURNING case_number, created_at
	`, c.ID, c.Subject, string(c.Status), string(c.Priority), c.LastActivityAt,
		c.Unread, c.ReadAt, c.AssignedTo, now,
	).Scan(&c.CaseNumber, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update conversation %s: not found", c.ID)
	}
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", c.ID, err)
	}
	c.UpdatedAt = now
	return nil
}

func (q *queries) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = store.NewID()
	}
	now := time.Now().UTC()
	_, err := q.db.Exec(ctx, `
		INSERT INTO messages
			(id, conversation_id, type, content, message_id, in_reply_to, "references", created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $8)
	`, m.ID, m.ConversationID, string(m.Type), m.Content, m.MessageID, m.InReplyTo, m.References, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

func (q *queries) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, conversation_id, type, content,
		       COALESCE(message_id, ''), COALESCE(in_reply_to, ''), COALESCE("references", ''),
		       created_at, updated_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (q *queries) UpdateMessageThreading(ctx context.Context, m *models.Message) error {
	now := time.Now().UTC()
	tag, err := q.db.Exec(ctx, `
		UPDATE messages
		SET message_id = NULLIF($2, ''), in_reply_to = NULLIF($3, ''), "references" = NULLIF($4, ''),
		    updated_at = $5
		WHERE id = $1
	`, m.ID, m.MessageID, m.InReplyTo, m.References, now)
	if err != nil {
		return fmt.Errorf("update message %s threading: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update message %s threading: not found", m.ID)
	}
	m.UpdatedAt = now
	return nil
}

func (q *queries) RawEmailExists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raw_emails WHERE message_id = $1)`, messageID,
	).Scan(&exists)
	return exists, err
}

func (q *queries) GetRawEmail(ctx context.Context, messageID string) (*models.RawEmail, error) {
	var (
		r                models.RawEmail
		headers, payload []byte
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, message_id, message_ref, headers, payload, raw_content, created_at
		FROM raw_emails
		WHERE message_id = $1
	`, messageID).Scan(&r.ID, &r.MessageID, &r.MessageRef, &headers, &payload, &r.RawContent, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Headers = json.RawMessage(headers)
	r.Payload = json.RawMessage(payload)
	return &r, nil
}

func (q *queries) CreateRawEmail(ctx context.Context, r *models.RawEmail) error {
	if r.ID == "" {
		r.ID = store.NewID()
	}
	payload := []byte(r.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var headers []byte
	if len(r.Headers) > 0 {
		headers = []byte(r.Headers)
	}
	now := time.Now().UTC()
	tag, err := q.db.Exec(ctx, `
		INSERT INTO raw_emails (id, message_id, message_ref, headers, payload, raw_content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
	`, r.ID, r.MessageID, r.MessageRef, headers, payload, r.RawContent, now)
	if err := insertResult(tag, err); err != nil {
		return fmt.Errorf("insert raw email: %w", err)
	}
	r.CreatedAt = now
	return nil
}

// insertResult maps a lost unique race to store.ErrConflict.
func insertResult(tag pgconn.CommandTag, err error) error {
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// scanContact scans a single row into a Contact.
func scanContact(row pgx.Row) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CompanyID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// scanConversation scans a single row into a Conversation.
func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var (
		c                models.Conversation
		status, priority string
	)
	err := row.Scan(
		&c.ID, &c.ContactID, &c.Subject, &status, &priority, &c.LastActivityAt,
		&c.Unread, &c.ReadAt, &c.CaseNumber, &c.AssignedTo, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Status = models.Status(status)
	c.Priority = models.Priority(priority)
	return &c, nil
}

// collectMessages scans multiple rows into a slice of Messages.
func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var (
			m   models.Message
			typ string
		)
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &typ, &m.Content,
			&m.MessageID, &m.InReplyTo, &m.References,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		m.Type = models.MessageType(typ)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
