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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/helpdesk/ingestion/internal/casenumber"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
)

// maxCaseNumberConflicts bounds inserts that lose a case-number race after
// the existence check passed.
const maxCaseNumberConflicts = 5

// Writer persists a conversation and one new message. It must be called
// inside a transaction so the pair is never half-written.
type Writer struct {
	CaseNumbers casenumber.Generator
	Now         func() time.Time
}

// Write creates conv when it has no ID (assigning a case number) or
// updates it otherwise, then appends msg. Activity, unread and read_at
// bookkeeping follow the message type: customer mail marks the
// conversation unread, an agent reply marks it read.
func (w *Writer) Write(ctx context.Context, q store.Queries, conv *models.Conversation, msg *models.Message) (created bool, err error) {
	now := w.now()
	conv.LastActivityAt = now
	switch msg.Type {
	case models.MessageCustomer:
		conv.Unread = true
		conv.ReadAt = nil
	case models.MessageAgent:
		conv.Unread = false
		conv.ReadAt = &now
	}

	if conv.ID == "" {
		if err := w.create(ctx, q, conv); err != nil {
			return false, err
		}
		created = true
	} else if err := q.UpdateConversation(ctx, conv); err != nil {
		return false, fmt.Errorf("update conversation: %w", err)
	}

	msg.ConversationID = conv.ID
	if err := q.CreateMessage(ctx, msg); err != nil {
		return false, fmt.Errorf("create message: %w", err)
	}
	return created, nil
}

func (w *Writer) create(ctx context.Context, q store.Queries, conv *models.Conversation) error {
	if conv.Status == "" {
		conv.Status = models.StatusOpen
	}
	if conv.Priority == "" {
		conv.Priority = models.PriorityMedium
	}

	for attempt := 1; ; attempt++ {
		number, err := w.CaseNumbers.Next(ctx, q.CaseNumberExists)
		if err != nil {
			return fmt.Errorf("generate case number: %w", err)
		}
		conv.CaseNumber = number

		err = q.CreateConversation(ctx, conv)
		if errors.Is(err, store.ErrConflict) && attempt < maxCaseNumberConflicts {
			continue
		}
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		return nil
	}
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}
