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
	"log/slog"
	"regexp"
	"strings"

	"github.com/helpdesk/ingestion/internal/mailaddr"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
)

var forwardedAddress = regexp.MustCompile(`<(.+?)>`)

// Sender returns the address an inbound email should be attributed to.
// An X-Forwarded-For header carrying <addr> names the original sender
// and takes precedence over From.
func Sender(email *models.InboundEmail) mailaddr.Address {
	for _, h := range email.Headers {
		if !strings.Contains(strings.ToLower(h.Name), "x-forwarded-for") {
			continue
		}
		if m := forwardedAddress.FindStringSubmatch(h.Value); m != nil {
			if fwd := mailaddr.Parse(m[1]); fwd.Email != mailaddr.Unknown {
				return fwd
			}
		}
	}

	if email.From.Address != "" {
		return mailaddr.Address{Name: email.From.Name, Email: email.From.Address}
	}
	return mailaddr.Parse(email.RawFrom)
}

// ContactResolver finds or creates the contact for a sender address.
// Contacts are never merged; the unique email constraint settles races.
type ContactResolver struct {
	CaseInsensitive bool
}

// Resolve returns the contact for addr, creating it when absent. A new
// contact is named after the display name or, failing that, the local
// part of the address.
func (r *ContactResolver) Resolve(ctx context.Context, q store.Queries, addr mailaddr.Address) (*models.Contact, bool, error) {
	contact, err := q.FindContactByEmail(ctx, addr.Email, r.CaseInsensitive)
	if err != nil {
		return nil, false, fmt.Errorf("find contact %s: %w", addr.Email, err)
	}
	if contact != nil {
		return contact, false, nil
	}

	name := addr.Name
	if !addr.HasName() {
		name = mailaddr.DisplayNameFromLocalPart(addr.Email)
	}
	contact = &models.Contact{Name: name, Email: addr.Email}
	err = q.CreateContact(ctx, contact)
	if errors.Is(err, store.ErrConflict) {
		// A concurrent delivery from the same sender won the insert.
		winner, ferr := q.FindContactByEmail(ctx, addr.Email, r.CaseInsensitive)
		if ferr != nil {
			return nil, false, fmt.Errorf("re-read contact %s: %w", addr.Email, ferr)
		}
		if winner == nil {
			return nil, false, fmt.Errorf("contact %s conflicted but is not visible", addr.Email)
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create contact %s: %w", addr.Email, err)
	}

	slog.Info("created new contact",
		"contact_id", contact.ID,
		"email", contact.Email,
	)
	return contact, true, nil
}
