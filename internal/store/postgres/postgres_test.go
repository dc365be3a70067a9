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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk/ingestion/internal/casenumber"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
)

func TestInsertResult(t *testing.T) {
	assert.NoError(t, insertResult(pgconn.NewCommandTag("INSERT 0 1"), nil))
	assert.ErrorIs(t, insertResult(pgconn.NewCommandTag("INSERT 0 0"), nil), store.ErrConflict)

	dup := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, insertResult(pgconn.CommandTag{}, dup), store.ErrConflict)

	other := errors.New("connection reset")
	assert.ErrorIs(t, insertResult(pgconn.CommandTag{}, other), other)
}

// openTestStore connects to HELPDESK_TEST_DATABASE_URL or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("HELPDESK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HELPDESK_TEST_DATABASE_URL not set")
	}
	s, err := Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStore_Integration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	contact := &models.Contact{Name: "Jane", Email: store.NewID() + "@example.com"}
	require.NoError(t, s.CreateContact(ctx, contact))
	assert.ErrorIs(t, s.CreateContact(ctx, &models.Contact{Email: contact.Email}), store.ErrConflict)

	conv := &models.Conversation{
		ContactID:  contact.ID,
		Subject:    "Need help",
		Status:     models.StatusOpen,
		Priority:   models.PriorityMedium,
		CaseNumber: casenumber.Generate(),
	}
	err := s.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateConversation(ctx, conv); err != nil {
			return err
		}
		msg := &models.Message{ConversationID: conv.ID, Type: models.MessageCustomer, Content: "Hello"}
		if err := q.CreateMessage(ctx, msg); err != nil {
			return err
		}

		rawID := store.NewID()
		archive := q.Savepoint(ctx, func(q store.Queries) error {
			return q.CreateRawEmail(ctx, &models.RawEmail{MessageID: rawID, MessageRef: &msg.ID, Payload: []byte(`{"a":1}`)})
		})
		require.NoError(t, archive)
		dup := q.Savepoint(ctx, func(q store.Queries) error {
			return q.CreateRawEmail(ctx, &models.RawEmail{MessageID: rawID, Payload: []byte(`{}`)})
		})
		assert.ErrorIs(t, dup, store.ErrConflict)
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindActiveConversationBySubject(ctx, contact.ID, []string{"Need help"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, conv.ID, got.ID)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].MessageID)
}
