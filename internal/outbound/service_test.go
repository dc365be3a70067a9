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
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk/ingestion/internal/ingest"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store/memory"
	"github.com/helpdesk/ingestion/internal/threading"
)

// fakeSender records every email and optionally fails.
type fakeSender struct {
	mu   sync.Mutex
	sent []*models.OutboundEmail
	err  error
}

func (f *fakeSender) Send(_ context.Context, email *models.OutboundEmail) (*models.SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, email)
	return &models.SendReceipt{MessageID: email.MessageID, ProviderID: "p-1"}, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordedEvents) Publish(_ context.Context, e models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func inboundEmail(messageID, subject, text string, headers ...models.Header) *models.InboundEmail {
	return &models.InboundEmail{
		MessageID: messageID,
		From:      models.EmailAddress{Address: "jane@x.com", Name: "Jane Doe"},
		RawFrom:   "Jane Doe <jane@x.com>",
		Subject:   subject,
		TextBody:  text,
		Headers:   headers,
		Payload:   []byte(`{"MessageID":"` + messageID + `"}`),
	}
}

func newTestService(sender Sender, events ingest.EventPublisher) (*Service, *memory.Store, *ingest.Pipeline) {
	st := memory.NewStore()
	composer := NewComposer("helpdesk.test", "support@helpdesk.test", models.EmailAddress{Address: "support@helpdesk.test", Name: "Acme Support"})
	return NewService(st, composer, sender, "fake", false, events), st, ingest.NewPipeline(st, ingest.Config{})
}

func TestService_AgentReply(t *testing.T) {
	sender := &fakeSender{}
	events := &recordedEvents{}
	svc, st, p := newTestService(sender, events)
	ctx := context.Background()

	first, err := p.Process(ctx, inboundEmail("m1", "Need help", "Hello"))
	require.NoError(t, err)
	conv := first.Conversation

	out, err := svc.CreateMessage(ctx, conv.ID, models.MessageAgent, "<p>On it</p>", nil)
	require.NoError(t, err)
	assert.Empty(t, out.Warning)
	require.NotNil(t, out.Receipt)
	assert.Equal(t, "<thread-"+conv.ID+"@helpdesk.test>", out.Receipt.ThreadID)

	require.Len(t, sender.sent, 1)
	email := sender.sent[0]
	threadID := "<thread-" + conv.ID + "@helpdesk.test>"
	assert.Equal(t, "Re: Need help", email.Subject)
	assert.Equal(t, TagReply, email.Tag)
	assert.Equal(t, []models.EmailAddress{{Address: "jane@x.com", Name: "Jane Doe"}}, email.To)
	assert.Equal(t, "Acme Support", email.From.Name)
	assert.Equal(t, threadID, email.InReplyTo)
	assert.Equal(t, threadID, email.References)
	assert.Equal(t, "support+"+first.Contact.ID+"_"+conv.ID+"@helpdesk.test", email.ReplyTo)
	assert.True(t, strings.HasPrefix(email.HTMLBody, "<p>On it</p>"))
	assert.Contains(t, email.HTMLBody, "Hello")

	msgs, err := st.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, email.MessageID, msgs[1].MessageID)
	assert.Equal(t, threadID, msgs[1].InReplyTo)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.Unread)
	assert.NotNil(t, got.ReadAt)
	assert.Equal(t, conv.CaseNumber, got.CaseNumber)

	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventMessageCreated, events.events[0].Type)
	assert.Equal(t, "agent", events.events[0].MessageType)
}

func TestService_SecondReplyReferencesFirst(t *testing.T) {
	sender := &fakeSender{}
	svc, _, p := newTestService(sender, nil)
	ctx := context.Background()

	first, err := p.Process(ctx, inboundEmail("m1", "Need help", "Hello"))
	require.NoError(t, err)
	convID := first.Conversation.ID

	_, err = svc.CreateMessage(ctx, convID, models.MessageAgent, "one", nil)
	require.NoError(t, err)
	_, err = svc.CreateMessage(ctx, convID, models.MessageAgent, "two", nil)
	require.NoError(t, err)

	require.Len(t, sender.sent, 2)
	threadID := "<thread-" + convID + "@helpdesk.test>"
	assert.Equal(t, threadID+" "+sender.sent[0].MessageID, sender.sent[1].References)
	assert.NotEqual(t, sender.sent[0].MessageID, sender.sent[1].MessageID)
}

func TestService_SendFailureIsAWarning(t *testing.T) {
	sender := &fakeSender{err: errors.New("provider down")}
	svc, st, p := newTestService(sender, nil)
	ctx := context.Background()

	first, err := p.Process(ctx, inboundEmail("m1", "Need help", "Hello"))
	require.NoError(t, err)

	out, err := svc.CreateMessage(ctx, first.Conversation.ID, models.MessageAgent, "reply", nil)
	require.NoError(t, err)
	assert.Equal(t, WarningNotificationFailed, out.Warning)
	assert.Nil(t, out.Receipt)

	msgs, err := st.ListMessages(ctx, first.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestService_InternalNotesAreNotSent(t *testing.T) {
	sender := &fakeSender{}
	svc, st, p := newTestService(sender, nil)
	ctx := context.Background()

	first, err := p.Process(ctx, inboundEmail("m1", "Need help", "Hello"))
	require.NoError(t, err)

	out, err := svc.CreateMessage(ctx, first.Conversation.ID, models.MessageInternal, "customer is VIP", nil)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.Empty(t, out.Message.MessageID)

	msgs, err := st.ListMessages(ctx, first.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageInternal, msgs[1].Type)

	// Internal notes are left out of the next reply's quoted history.
	_, err = svc.CreateMessage(ctx, first.Conversation.ID, models.MessageAgent, "reply", nil)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.NotContains(t, sender.sent[0].HTMLBody, "customer is VIP")
}

func TestService_CreateMessageValidation(t *testing.T) {
	svc, _, _ := newTestService(&fakeSender{}, nil)
	ctx := context.Background()

	_, err := svc.CreateMessage(ctx, "missing", models.MessageAgent, "hi", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreateMessage(ctx, "missing", "robot", "hi", nil)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.CreateMessage(ctx, "missing", models.MessageAgent, "   ", nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestService_StartConversation(t *testing.T) {
	sender := &fakeSender{}
	events := &recordedEvents{}
	svc, st, _ := newTestService(sender, events)
	ctx := context.Background()

	out, err := svc.StartConversation(ctx, StartRequest{
		Email:   "bob@y.com",
		Subject: "Your order",
		Content: "<p>It shipped</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob", out.Contact.Name)
	assert.Equal(t, models.StatusOpen, out.Conversation.Status)
	assert.NotEmpty(t, out.Conversation.CaseNumber)

	require.Len(t, sender.sent, 1)
	email := sender.sent[0]
	threadID := "<thread-" + out.Conversation.ID + "@helpdesk.test>"
	assert.Equal(t, "Your order", email.Subject)
	assert.Equal(t, TagNewConversation, email.Tag)
	assert.Equal(t, "<p>It shipped</p>", email.HTMLBody)
	assert.Equal(t, threadID, email.InReplyTo)
	assert.Equal(t, threadID, email.References)

	msgs, err := st.ListMessages(ctx, out.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, email.MessageID, msgs[0].MessageID)

	require.Len(t, events.events, 2)
	assert.Equal(t, models.EventConversationCreated, events.events[0].Type)
	assert.Equal(t, models.EventMessageCreated, events.events[1].Type)

	_, err = svc.StartConversation(ctx, StartRequest{Email: "not an address", Subject: "x", Content: "y"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestService_CustomerReplyThreadsBack(t *testing.T) {
	sender := &fakeSender{}
	svc, _, p := newTestService(sender, nil)
	ctx := context.Background()

	out, err := svc.StartConversation(ctx, StartRequest{Email: "jane@x.com", Subject: "Your order", Content: "It shipped"})
	require.NoError(t, err)
	sent := sender.sent[0]

	// Mail clients quote our Message-ID in In-Reply-To and extend References.
	reply, err := p.Process(ctx, inboundEmail("r1", "Something unrelated", "Thanks!",
		models.Header{Name: "In-Reply-To", Value: sent.MessageID},
		models.Header{Name: "References", Value: sent.References + " " + sent.MessageID},
	))
	require.NoError(t, err)
	assert.Equal(t, threading.RuleReferences, reply.Rule)
	assert.Equal(t, out.Conversation.ID, reply.Conversation.ID)

	// Replies that drop headers still land via the plus-addressed mailbox hash.
	_, hash, _ := strings.Cut(strings.Split(sent.ReplyTo, "@")[0], "+")
	stripped := inboundEmail("r2", "Another subject", "Again")
	stripped.MailboxHash = hash
	again, err := p.Process(ctx, stripped)
	require.NoError(t, err)
	assert.Equal(t, threading.RuleMailboxHash, again.Rule)
	assert.Equal(t, out.Conversation.ID, again.Conversation.ID)
}
