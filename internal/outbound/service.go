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

package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helpdesk/ingestion/internal/ingest"
	"github.com/helpdesk/ingestion/internal/mailaddr"
	"github.com/helpdesk/ingestion/internal/metrics"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
)

// WarningNotificationFailed is reported when a message was stored but
// its email could not be handed to the provider.
const WarningNotificationFailed = "Message sent but email notification failed to send"

var (
	// ErrNotFound is returned for an unknown conversation.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalid is returned for a request that fails validation.
	ErrInvalid = errors.New("invalid message request")
)

// Outcome is the result of an agent-side write. Warning is set when the
// email could not be sent; the message is persisted regardless.
type Outcome struct {
	Conversation *models.Conversation
	Message      *models.Message
	Contact      *models.Contact
	Receipt      *models.SendReceipt
	Warning      string
}

// Service persists agent-side messages and emails them with threading
// headers. Send failures never undo the write.
type Service struct {
	store    store.Store
	composer *Composer
	sender   Sender
	driver   string
	writer   *ingest.Writer
	contacts *ingest.ContactResolver
	events   ingest.EventPublisher
}

// NewService wires the reply path. driver labels send metrics; events
// may be nil.
func NewService(st store.Store, composer *Composer, sender Sender, driver string, caseInsensitiveContacts bool, events ingest.EventPublisher) *Service {
	return &Service{
		store:    st,
		composer: composer,
		sender:   sender,
		driver:   driver,
		writer:   &ingest.Writer{},
		contacts: &ingest.ContactResolver{CaseInsensitive: caseInsensitiveContacts},
		events:   events,
	}
}

// CreateMessage appends a message to an existing conversation. Agent
// messages get threading headers backfilled in the same transaction and
// are then emailed to the contact; customer and internal messages are
// stored only.
func (s *Service) CreateMessage(ctx context.Context, conversationID string, typ models.MessageType, body string, attachments []models.Attachment) (*Outcome, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalid, typ)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalid)
	}

	out := &Outcome{}
	var prior []models.Message
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		conv, err := q.GetConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil {
			return ErrNotFound
		}
		contact, err := q.GetContact(ctx, conv.ContactID)
		if err != nil {
			return fmt.Errorf("load contact: %w", err)
		}
		if contact == nil {
			return fmt.Errorf("conversation %s has no contact", conv.ID)
		}

		if typ == models.MessageAgent {
			if prior, err = q.ListMessages(ctx, conv.ID); err != nil {
				return fmt.Errorf("list messages: %w", err)
			}
		}

		msg := &models.Message{Type: typ, Content: body}
		if _, err := s.writer.Write(ctx, q, conv, msg); err != nil {
			return err
		}
		if typ == models.MessageAgent {
			if err := s.backfill(ctx, q, conv, msg, prior); err != nil {
				return err
			}
		}

		out.Conversation, out.Contact, out.Message = conv, contact, msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, out, false)
	if typ != models.MessageAgent {
		return out, nil
	}

	s.send(ctx, out, &models.OutboundEmail{
		Subject:     Subject(out.Conversation.Subject),
		HTMLBody:    s.composer.ReplyBody(body, out.Contact, prior),
		Tag:         TagReply,
		Attachments: attachments,
	})
	return out, nil
}

// StartRequest opens an agent-initiated conversation.
type StartRequest struct {
	Email       string
	Name        string
	Subject     string
	Content     string
	Attachments []models.Attachment
}

// StartConversation finds or creates the contact, creates the conversation
// with its first agent message and emails it.
func (s *Service) StartConversation(ctx context.Context, req StartRequest) (*Outcome, error) {
	addr := mailaddr.Parse(req.Email)
	if addr.Email == mailaddr.Unknown {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalid)
	}
	if req.Name != "" {
		addr.Name = req.Name
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: subject and content are required", ErrInvalid)
	}

	contact, _, err := s.contacts.Resolve(ctx, s.store, addr)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Contact: contact}
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		conv := &models.Conversation{
			ContactID: contact.ID,
			Subject:   strings.TrimSpace(req.Subject),
			Status:    models.StatusOpen,
			Priority:  models.PriorityMedium,
		}
		msg := &models.Message{Type: models.MessageAgent, Content: req.Content}
		if _, err := s.writer.Write(ctx, q, conv, msg); err != nil {
			return err
		}
		if err := s.backfill(ctx, q, conv, msg, nil); err != nil {
			return err
		}
		out.Conversation, out.Message = conv, msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, out, true)
	s.send(ctx, out, &models.OutboundEmail{
		Subject:     out.Conversation.Subject,
		HTMLBody:    s.composer.ReplyBody(req.Content, contact, nil),
		Tag:         TagNewConversation,
		Attachments: req.Attachments,
	})
	return out, nil
}

// backfill stores the threading headers on msg before it is sent.
func (s *Service) backfill(ctx context.Context, q store.Queries, conv *models.Conversation, msg *models.Message, prior []models.Message) error {
	h := s.composer.Thread(conv, prior)
	msg.MessageID = h.MessageID
	msg.InReplyTo = h.InReplyTo
	msg.References = h.References
	if err := q.UpdateMessageThreading(ctx, msg); err != nil {
		return fmt.Errorf("backfill threading headers: %w", err)
	}
	return nil
}

// send completes email from out and dispatches it, downgrading failure to
// out.Warning.
func (s *Service) send(ctx context.Context, out *Outcome, email *models.OutboundEmail) {
	email.From = s.composer.From
	email.To = []models.EmailAddress{{Address: out.Contact.Email, Name: out.Contact.Name}}
	email.MessageID = out.Message.MessageID
	email.InReplyTo = out.Message.InReplyTo
	email.References = out.Message.References
	email.ReplyTo = s.composer.ReplyTo(out.Contact.ID, out.Conversation.ID)

	receipt, err := s.sender.Send(ctx, email)
	metrics.OutboundSends.WithLabelValues(s.driver, metrics.Result(err)).Inc()
	if err != nil {
		slog.Warn("failed to send outbound email",
			"conversation_id", out.Conversation.ID,
			"contact_id", out.Contact.ID,
			"message_id", out.Message.ID,
			"driver", s.driver,
			"error", err,
		)
		out.Warning = WarningNotificationFailed
		return
	}
	receipt.ThreadID = s.composer.ThreadID(out.Conversation.ID)
	out.Receipt = receipt

	slog.Info("sent outbound email",
		"conversation_id", out.Conversation.ID,
		"message_id", out.Message.ID,
		"email_message_id", receipt.MessageID,
		"tag", email.Tag,
		"driver", s.driver,
	)
}

func (s *Service) publish(ctx context.Context, out *Outcome, newConversation bool) {
	if s.events == nil {
		return
	}
	occurred := time.Now().UTC().Format(time.RFC3339)
	events := []models.Event{{
		Type:           models.EventMessageCreated,
		ConversationID: out.Conversation.ID,
		MessageID:      out.Message.ID,
		ContactID:      out.Contact.ID,
		MessageType:    string(out.Message.Type),
		OccurredAt:     occurred,
	}}
	if newConversation {
		events = append([]models.Event{{
			Type:           models.EventConversationCreated,
			ConversationID: out.Conversation.ID,
			ContactID:      out.Contact.ID,
			OccurredAt:     occurred,
		}}, events...)
	}
	for _, e := range events {
		if err := s.events.Publish(ctx, e); err != nil {
			slog.Warn("failed to publish helpdesk event",
				"event", e.Type,
				"conversation_id", e.ConversationID,
				"error", err,
			)
		}
	}
}
