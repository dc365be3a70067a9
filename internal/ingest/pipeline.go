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

// Package ingest turns a decoded inbound email into persisted helpdesk
// state: contact, conversation, customer message and raw archive.
//
// Redelivery of a provider Message-ID is recognised three ways, cheapest
// first: the optional Redis seen-set, an up-front raw_emails lookup, and
// finally the raw_emails unique constraint inside the write transaction,
// which settles concurrent deliveries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helpdesk/ingestion/internal/casenumber"
	"github.com/helpdesk/ingestion/internal/content"
	"github.com/helpdesk/ingestion/internal/metrics"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
	"github.com/helpdesk/ingestion/internal/threading"
)

// ErrDuplicate reports a delivery whose Message-ID was already processed.
var ErrDuplicate = errors.New("duplicate delivery")

// Deduper is the fast-path seen-set. Implemented by dedup.Filter.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// EventPublisher receives domain events after commit. Implemented by
// queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Config tunes pipeline behaviour.
type Config struct {
	ReopenStatuses          []models.Status
	CaseInsensitiveContacts bool
	MaxContentBytes         int
}

// Result describes what one delivery produced.
type Result struct {
	Contact         *models.Contact
	Conversation    *models.Conversation
	Message         *models.Message
	Rule            threading.Rule
	NewContact      bool
	NewConversation bool
	Reopened        bool
	Archived        bool
}

// Pipeline processes inbound emails. It holds no per-delivery state and
// is safe for concurrent use.
type Pipeline struct {
	store      store.Store
	contacts   *ContactResolver
	resolver   *threading.Resolver
	writer     *Writer
	normalizer content.Normalizer
	dedup      Deduper
	events     EventPublisher
	now        func() time.Time
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithDedup installs a fast-path seen-set.
func WithDedup(d Deduper) Option { return func(p *Pipeline) { p.dedup = d } }

// WithEvents installs a post-commit event publisher.
func WithEvents(e EventPublisher) Option { return func(p *Pipeline) { p.events = e } }

// WithClock overrides the time source for activity timestamps.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithCaseNumbers overrides case-number generation.
func WithCaseNumbers(g casenumber.Generator) Option {
	return func(p *Pipeline) { p.writer.CaseNumbers = g }
}

// NewPipeline wires the ingestion steps over st.
func NewPipeline(st store.Store, cfg Config, opts ...Option) *Pipeline {
	resolver := threading.NewResolver()
	if len(cfg.ReopenStatuses) > 0 {
		resolver.ReopenStatuses = cfg.ReopenStatuses
	}
	p := &Pipeline{
		store:      st,
		contacts:   &ContactResolver{CaseInsensitive: cfg.CaseInsensitiveContacts},
		resolver:   resolver,
		writer:     &Writer{},
		normalizer: content.Normalizer{MaxInputBytes: cfg.MaxContentBytes},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.resolver.Now = p.now
	p.writer.Now = p.now
	return p
}

// Process ingests one validated email. It returns ErrDuplicate, with a
// nil Result, when the Message-ID was already processed.
func (p *Pipeline) Process(ctx context.Context, email *models.InboundEmail) (*Result, error) {
	if email.MessageID == "" {
		return nil, fmt.Errorf("process inbound email: message id is required")
	}
	start := time.Now()
	defer func() { metrics.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	if p.dedup != nil {
		seen, err := p.dedup.Seen(ctx, email.MessageID)
		if err != nil {
			slog.Warn("dedup lookup failed, falling back to database",
				"message_id", email.MessageID,
				"error", err,
			)
		} else if seen {
			return nil, ErrDuplicate
		}
	}

	exists, err := p.store.RawEmailExists(ctx, email.MessageID)
	if err != nil {
		return nil, fmt.Errorf("check raw email %s: %w", email.MessageID, err)
	}
	if exists {
		p.markSeen(ctx, email.MessageID)
		return nil, ErrDuplicate
	}

	res := &Result{}
	res.Contact, res.NewContact, err = p.contacts.Resolve(ctx, p.store, Sender(email))
	if err != nil {
		return nil, fmt.Errorf("resolve contact: %w", err)
	}

	body := p.normalizer.Normalize(email.HTMLBody, email.TextBody)

	err = p.store.WithTx(ctx, func(q store.Queries) error {
		resolution, err := p.resolver.Resolve(ctx, q, threading.Input{
			InReplyTo:   email.InReplyTo(),
			References:  email.References(),
			MailboxHash: email.MailboxHash,
			Subject:     email.Subject,
			Contact:     res.Contact,
		})
		if err != nil {
			return err
		}
		if resolution.IsNew() {
			slog.Debug("no thread match, starting conversation",
				"message_id", email.MessageID,
				"contact_id", res.Contact.ID,
			)
		}

		msg := &models.Message{Type: models.MessageCustomer, Content: body}
		created, err := p.writer.Write(ctx, q, resolution.Conversation, msg)
		if err != nil {
			return err
		}

		res.Conversation = resolution.Conversation
		res.Message = msg
		res.Rule = resolution.Rule
		res.NewConversation = created
		res.Reopened = resolution.Reopened

		archiveErr := Archive(ctx, q, email, msg.ID)
		switch {
		case errors.Is(archiveErr, store.ErrConflict):
			return ErrDuplicate
		case archiveErr != nil:
			metrics.ArchiveFailures.Inc()
			slog.Error("failed to archive raw email",
				"message_id", email.MessageID,
				"contact_id", res.Contact.ID,
				"conversation_id", res.Conversation.ID,
				"error", archiveErr,
			)
		default:
			res.Archived = true
		}
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		slog.Info("concurrent delivery already processed, rolled back",
			"message_id", email.MessageID,
		)
		p.markSeen(ctx, email.MessageID)
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("write conversation: %w", err)
	}

	metrics.ThreadResolutions.WithLabelValues(string(res.Rule)).Inc()
	p.markSeen(ctx, email.MessageID)
	p.publish(ctx, res)

	slog.Info("processed inbound email",
		"message_id", email.MessageID,
		"contact_id", res.Contact.ID,
		"conversation_id", res.Conversation.ID,
		"case_number", res.Conversation.CaseNumber,
		"rule", res.Rule,
		"new_conversation", res.NewConversation,
		"reopened", res.Reopened,
	)
	return res, nil
}

func (p *Pipeline) markSeen(ctx context.Context, messageID string) {
	if p.dedup == nil {
		return
	}
	if err := p.dedup.MarkSeen(ctx, messageID); err != nil {
		slog.Warn("failed to mark message as seen",
			"message_id", messageID,
			"error", err,
		)
	}
}

func (p *Pipeline) publish(ctx context.Context, res *Result) {
	if p.events == nil {
		return
	}
	occurred := p.now().UTC().Format(time.RFC3339)
	var events []models.Event
	if res.NewConversation {
		events = append(events, models.Event{
			Type:           models.EventConversationCreated,
			ConversationID: res.Conversation.ID,
			ContactID:      res.Contact.ID,
			OccurredAt:     occurred,
		})
	}
	events = append(events, models.Event{
		Type:           models.EventMessageCreated,
		ConversationID: res.Conversation.ID,
		MessageID:      res.Message.ID,
		ContactID:      res.Contact.ID,
		MessageType:    string(res.Message.Type),
		OccurredAt:     occurred,
	})

	for _, event := range events {
		if err := p.events.Publish(ctx, event); err != nil {
			slog.Warn("failed to publish helpdesk event",
				"event", event.Type,
				"conversation_id", event.ConversationID,
				"error", err,
			)
		}
	}
}
