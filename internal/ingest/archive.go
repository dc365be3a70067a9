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
	"encoding/json"
	"fmt"

	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
)

// NewRawEmail builds the archive record for email, linked to the message
// it produced. The payload is stored exactly as received.
func NewRawEmail(email *models.InboundEmail, messageRef string) (*models.RawEmail, error) {
	raw := &models.RawEmail{
		MessageID:  email.MessageID,
		Payload:    json.RawMessage(email.Payload),
		RawContent: email.TextBody,
	}
	if messageRef != "" {
		raw.MessageRef = &messageRef
	}
	if raw.RawContent == "" {
		raw.RawContent = email.HTMLBody
	}

	if len(email.Headers) > 0 {
		headers, err := json.Marshal(email.Headers)
		if err != nil {
			return nil, fmt.Errorf("marshal headers: %w", err)
		}
		raw.Headers = headers
	}

	if len(raw.Payload) == 0 || !json.Valid(raw.Payload) {
		payload, err := json.Marshal(email)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw.Payload = payload
	}
	return raw, nil
}

// Archive appends the delivery to raw_emails inside a savepoint, so a
// failure undoes only the archive row. store.ErrConflict means another
// delivery of the same Message-ID already archived it.
func Archive(ctx context.Context, q store.Queries, email *models.InboundEmail, messageRef string) error {
	raw, err := NewRawEmail(email, messageRef)
	if err != nil {
		return fmt.Errorf("build raw email: %w", err)
	}
	return q.Savepoint(ctx, func(q store.Queries) error {
		return q.CreateRawEmail(ctx, raw)
	})
}
