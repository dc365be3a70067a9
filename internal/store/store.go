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

// Package store defines the persistence contract for contacts,
// conversations, messages and the raw email archive. Unique constraints
// (contact email, conversation case number, raw email Message-ID) are the
// race-resolution mechanism: a lost race surfaces as ErrConflict and the
// caller re-reads.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/helpdesk/ingestion/internal/models"
)

// ErrConflict is returned when an insert loses a unique-constraint race.
var ErrConflict = errors.New("unique constraint conflict")

// Queries is the set of operations available both on the store and inside
// a transaction. Single-row lookups return (nil, nil) when nothing matches.
type Queries interface {
	FindContactByEmail(ctx context.Context, email string, caseInsensitive bool) (*models.Contact, error)
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	CreateContact(ctx context.Context, c *models.Contact) error

	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// FindActiveConversationBySubject returns the most recently active
	// conversation of the contact whose subject is one of subjects and whose
	// status is not closed.
	FindActiveConversationBySubject(ctx context.Context, contactID string, subjects []string) (*models.Conversation, error)
	CaseNumberExists(ctx context.Context, caseNumber string) (bool, error)
	CreateConversation(ctx context.Context, c *models.Conversation) error
	UpdateConversation(ctx context.Context, c *models.Conversation) error

	CreateMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns a conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	UpdateMessageThreading(ctx context.Context, m *models.Message) error

	RawEmailExists(ctx context.Context, messageID string) (bool, error)
	GetRawEmail(ctx context.Context, messageID string) (*models.RawEmail, error)
	CreateRawEmail(ctx context.Context, r *models.RawEmail) error

	// Savepoint runs fn in a nested unit; an error from fn undoes only
	// the work fn did.
	Savepoint(ctx context.Context, fn func(Queries) error) error
}

// Store is the top-level handle.
type Store interface {
	Queries
	// WithTx runs fn atomically. Any error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(Queries) error) error
	Ping(ctx context.Context) error
	Close()
}

// NewID returns a time-ordered row id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
