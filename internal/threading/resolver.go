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

// Package threading decides which existing conversation, if any, an inbound
// email continues. Signals are tried in a fixed order and the first match
// wins:
//
//  1. thread-{id}@ markers in In-Reply-To, then References
//  2. the {contact}_{conversation} mailbox hash from plus addressing
//  3. the cleaned subject, same contact, status not closed
//
// Rules 1 and 2 match regardless of status. Rule 3 never revives a closed
// conversation. When nothing matches a new conversation is proposed.
package threading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helpdesk/ingestion/internal/models"
)

// Rule records which signal matched.
type Rule string

const (
	RuleInReplyTo   Rule = "in_reply_to"
	RuleReferences  Rule = "references"
	RuleMailboxHash Rule = "mailbox_hash"
	RuleSubject     Rule = "subject"
	RuleNew         Rule = "new"
)

// Lookup is the read side the resolver needs. Implemented by store.Queries.
type Lookup interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	FindActiveConversationBySubject(ctx context.Context, contactID string, subjects []string) (*models.Conversation, error)
}

// Input carries the signals extracted from one inbound email.
type Input struct {
	InReplyTo   string
	References  string
	MailboxHash string
	Subject     string
	Contact     *models.Contact
}

// Resolution is the outcome. For RuleNew, Conversation is unsaved (empty ID).
type Resolution struct {
	Conversation *models.Conversation
	Rule         Rule
	Reopened     bool
}

// IsNew reports whether a new conversation must be created.
func (r *Resolution) IsNew() bool { return r.Rule == RuleNew }

// Resolver applies the resolution order. ReopenStatuses lists the statuses
// a header or mailbox-hash match moves back to open.
type Resolver struct {
	ReopenStatuses []models.Status
	Now            func() time.Time
}

// NewResolver returns a resolver that reopens closed conversations only.
func NewResolver() *Resolver {
	return &Resolver{
		ReopenStatuses: []models.Status{models.StatusClosed},
		Now:            time.Now,
	}
}

// Resolve returns the conversation the email belongs to. Matched
// conversations come back with LastActivityAt refreshed and, where
// configured, Status reopened; persisting them is the caller's job.
func (r *Resolver) Resolve(ctx context.Context, q Lookup, in Input) (*Resolution, error) {
	if in.Contact == nil {
		return nil, fmt.Errorf("resolve thread: contact is required")
	}
	now := r.now()

	for _, src := range []struct {
		rule   Rule
		header string
	}{
		{RuleInReplyTo, in.InReplyTo},
		{RuleReferences, in.References},
	} {
		for _, id := range ExtractThreadIDs(src.header) {
			conv, err := q.GetConversation(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("look up conversation %s: %w", id, err)
			}
			if conv == nil {
				slog.Debug("thread marker points at unknown conversation",
					"rule", src.rule,
					"conversation_id", id,
				)
				continue
			}
			return r.matched(conv, src.rule, now, true), nil
		}
	}

	if contactID, convID, ok := ParseMailboxHash(in.MailboxHash); ok {
		conv, err := q.GetConversation(ctx, convID)
		if err != nil {
			return nil, fmt.Errorf("look up conversation %s: %w", convID, err)
		}
		if conv != nil && conv.ContactID == contactID {
			return r.matched(conv, RuleMailboxHash, now, true), nil
		}
		if conv != nil {
			slog.Warn("mailbox hash contact mismatch, ignoring",
				"conversation_id", convID,
				"hash_contact_id", contactID,
				"conversation_contact_id", conv.ContactID,
			)
		}
	}

	clean := CleanSubject(in.Subject)
	subjects := []string{clean}
	if original := in.Subject; original != clean {
		subjects = append(subjects, original)
	}
	conv, err := q.FindActiveConversationBySubject(ctx, in.Contact.ID, subjects)
	if err != nil {
		return nil, fmt.Errorf("find conversation by subject: %w", err)
	}
	if conv != nil {
		return r.matched(conv, RuleSubject, now, false), nil
	}

	return &Resolution{
		Rule: RuleNew,
		Conversation: &models.Conversation{
			ContactID:      in.Contact.ID,
			Subject:        clean,
			Status:         models.StatusOpen,
			Priority:       models.PriorityMedium,
			LastActivityAt: now,
		},
	}, nil
}

func (r *Resolver) matched(conv *models.Conversation, rule Rule, now time.Time, mayReopen bool) *Resolution {
	res := &Resolution{Conversation: conv, Rule: rule}
	conv.LastActivityAt = now
	if mayReopen && r.reopens(conv.Status) {
		conv.Status = models.StatusOpen
		res.Reopened = true
	}
	return res
}

func (r *Resolver) reopens(s models.Status) bool {
	for _, candidate := range r.ReopenStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
