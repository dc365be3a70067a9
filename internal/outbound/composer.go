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

// Package outbound builds and sends helpdesk email: threading headers,
// plus-addressed Reply-To, quoted history, and the driver that hands the
// result to a mail provider.
package outbound

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/helpdesk/ingestion/internal/mailaddr"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/threading"
)

// Tags attached to outbound mail.
const (
	TagNewConversation = "new-conversation"
	TagReply           = "reply"
)

const historyDateLayout = "Jan 2, 2006 at 3:04 PM"

// Composer produces threading headers and message bodies. AppDomain is the
// right-hand side of generated ids. InboundAddress is the provider inbox
// that plus-addressed Reply-To values are derived from.
type Composer struct {
	AppDomain      string
	InboundAddress string
	From           models.EmailAddress

	newID  func() string
	policy *bluemonday.Policy
}

// NewComposer returns a Composer with the outbound HTML policy installed.
func NewComposer(appDomain, inboundAddress string, from models.EmailAddress) *Composer {
	if appDomain == "" {
		appDomain = "localhost"
	}
	return &Composer{
		AppDomain:      appDomain,
		InboundAddress: inboundAddress,
		From:           from,
		newID:          uuid.NewString,
		policy:         newPolicy(),
	}
}

// newPolicy allows user-generated HTML plus the inline styles the quoted
// history block uses.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowStyles(
		"border-top", "border-left", "padding-top", "padding-left",
		"margin", "margin-top", "margin-bottom",
		"color", "font-size", "font-weight",
	).Globally()
	return p
}

// Headers is the threading metadata for one outbound message.
type Headers struct {
	MessageID  string
	ThreadID   string
	InReplyTo  string
	References string
	ReplyTo    string
}

// MessageID returns a fresh <uuid@domain> id.
func (c *Composer) MessageID() string {
	return fmt.Sprintf("<%s@%s>", c.newID(), c.AppDomain)
}

// ThreadID returns the stable per-conversation id.
func (c *Composer) ThreadID(conversationID string) string {
	return fmt.Sprintf("<thread-%s@%s>", conversationID, c.AppDomain)
}

// ReplyTo inserts +{contactId}_{conversationId} into the inbound
// mailbox's local part.
func (c *Composer) ReplyTo(contactID, conversationID string) string {
	local := mailaddr.LocalPart(c.InboundAddress)
	domain := mailaddr.Domain(c.InboundAddress)
	if domain == "" {
		domain = c.AppDomain
	}
	return fmt.Sprintf("%s+%s@%s", local, threading.MailboxHash(contactID, conversationID), domain)
}

// References joins threadID and the Message-IDs of prior, skipping
// messages without one and any repeats, oldest first.
func References(threadID string, prior []models.Message) string {
	refs := []string{threadID}
	seen := map[string]bool{threadID: true}
	for _, m := range prior {
		if m.MessageID == "" || seen[m.MessageID] {
			continue
		}
		seen[m.MessageID] = true
		refs = append(refs, m.MessageID)
	}
	return strings.Join(refs, " ")
}

// Thread builds the headers for a new message in conv. prior must be in
// chronological order and must not contain the message being sent.
func (c *Composer) Thread(conv *models.Conversation, prior []models.Message) Headers {
	threadID := c.ThreadID(conv.ID)
	return Headers{
		MessageID:  c.MessageID(),
		ThreadID:   threadID,
		InReplyTo:  threadID,
		References: References(threadID, prior),
		ReplyTo:    c.ReplyTo(conv.ContactID, conv.ID),
	}
}

// ReplyBody renders content followed by the conversation history, newest
// first, under an "On {date}, {name} <{email}> wrote:" line. Internal
// notes are never quoted. prior must not contain the reply itself.
func (c *Composer) ReplyBody(content string, contact *models.Contact, prior []models.Message) string {
	var history []models.Message
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].Type != models.MessageInternal {
			history = append(history, prior[i])
		}
	}
	if len(history) == 0 {
		return c.policy.Sanitize(content)
	}

	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(`<div style="border-top: 1px solid #ccc; padding-top: 20px; margin-top: 20px;">`)

	name, email := c.author(history[0], contact)
	fmt.Fprintf(&b, `<p style="color: #666; font-size: 14px; margin-bottom: 15px;">On %s, %s &lt;%s&gt; wrote:</p>`,
		history[0].CreatedAt.Format(historyDateLayout), html.EscapeString(name), html.EscapeString(email))

	b.WriteString(`<blockquote style="border-left: 3px solid #ccc; margin: 0 0 15px 0; padding-left: 15px; color: #666;">`)
	for _, m := range history {
		author, _ := c.author(m, contact)
		b.WriteString(`<div style="margin-bottom: 15px;">`)
		fmt.Fprintf(&b, `<div style="font-weight: bold; font-size: 12px; color: #888; margin-bottom: 5px;">%s - %s</div>`,
			html.EscapeString(author), m.CreatedAt.Format(historyDateLayout))
		b.WriteString(`<div style="padding-left: 10px;">`)
		b.WriteString(m.Content)
		b.WriteString(`</div></div>`)
	}
	b.WriteString(`</blockquote></div>`)

	return c.policy.Sanitize(b.String())
}

func (c *Composer) author(m models.Message, contact *models.Contact) (name, email string) {
	if m.Type == models.MessageCustomer {
		return contact.Name, contact.Email
	}
	name = c.From.Name
	if name == "" {
		name = "Support Team"
	}
	return name, c.From.Address
}

// Subject prefixes a reply subject with "Re: " once.
func Subject(conversationSubject string) string {
	return "Re: " + threading.CleanSubject(conversationSubject)
}

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }
