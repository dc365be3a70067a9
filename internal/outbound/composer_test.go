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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk/ingestion/internal/models"
)

func testComposer() *Composer {
	c := NewComposer("helpdesk.test", "support@inbound.helpdesk.test", models.EmailAddress{Address: "support@helpdesk.test", Name: "Acme Support"})
	c.newID = func() string { return "11111111-2222-3333-4444-555555555555" }
	return c
}

func TestComposer_IDs(t *testing.T) {
	c := testComposer()

	assert.Equal(t, "<11111111-2222-3333-4444-555555555555@helpdesk.test>", c.MessageID())
	assert.Equal(t, "<thread-conv-1@helpdesk.test>", c.ThreadID("conv-1"))
	assert.Equal(t, "support+contact-1_conv-1@inbound.helpdesk.test", c.ReplyTo("contact-1", "conv-1"))
}

func TestComposer_ReplyToFallsBackToAppDomain(t *testing.T) {
	c := NewComposer("helpdesk.test", "support", models.EmailAddress{})
	assert.Equal(t, "support+a_b@helpdesk.test", c.ReplyTo("a", "b"))
}

func TestReferences(t *testing.T) {
	prior := []models.Message{
		{MessageID: "<m1@x>"},
		{MessageID: ""},
		{MessageID: "<m2@x>"},
		{MessageID: "<m1@x>"},
		{MessageID: "<thread-c@x>"},
	}
	assert.Equal(t, "<thread-c@x> <m1@x> <m2@x>", References("<thread-c@x>", prior))
	assert.Equal(t, "<thread-c@x>", References("<thread-c@x>", nil))
}

func TestComposer_Thread(t *testing.T) {
	c := testComposer()
	conv := &models.Conversation{ID: "conv-1", ContactID: "contact-1"}

	h := c.Thread(conv, []models.Message{{MessageID: "<m1@x>"}})

	assert.Equal(t, "<thread-conv-1@helpdesk.test>", h.ThreadID)
	assert.Equal(t, h.ThreadID, h.InReplyTo)
	assert.Equal(t, "<thread-conv-1@helpdesk.test> <m1@x>", h.References)
	assert.Equal(t, "support+contact-1_conv-1@inbound.helpdesk.test", h.ReplyTo)
	assert.True(t, strings.HasSuffix(h.MessageID, "@helpdesk.test>"))
}

func TestComposer_ReplyBody(t *testing.T) {
	c := testComposer()
	contact := &models.Contact{Name: "Jane Doe", Email: "jane@x.com"}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prior := []models.Message{
		{Type: models.MessageCustomer, Content: "first question", CreatedAt: t0},
		{Type: models.MessageInternal, Content: "secret note", CreatedAt: t0.Add(time.Minute)},
		{Type: models.MessageAgent, Content: "agent answer", CreatedAt: t0.Add(2 * time.Minute)},
		{Type: models.MessageCustomer, Content: "follow up", CreatedAt: t0.Add(3 * time.Minute)},
	}

	body := c.ReplyBody("<p>Thanks!</p><script>alert(1)</script>", contact, prior)

	assert.True(t, strings.HasPrefix(body, "<p>Thanks!</p>"))
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "secret note")
	assert.Contains(t, body, "On Mar 1, 2026 at 12:03 PM, Jane Doe &lt;jane@x.com&gt; wrote:")
	assert.Contains(t, body, "Acme Support - Mar 1, 2026 at 12:02 PM")

	newest := strings.Index(body, "follow up")
	middle := strings.Index(body, "agent answer")
	oldest := strings.Index(body, "first question")
	require.True(t, newest > 0 && middle > 0 && oldest > 0)
	assert.Less(t, newest, middle)
	assert.Less(t, middle, oldest)
}

func TestComposer_ReplyBodyWithoutHistory(t *testing.T) {
	c := testComposer()
	body := c.ReplyBody("<p>Hello</p>", &models.Contact{}, []models.Message{{Type: models.MessageInternal, Content: "note"}})
	assert.Equal(t, "<p>Hello</p>", body)
}

func TestComposer_DefaultAgentLabel(t *testing.T) {
	c := NewComposer("helpdesk.test", "support@helpdesk.test", models.EmailAddress{Address: "support@helpdesk.test"})
	body := c.ReplyBody("ok", &models.Contact{}, []models.Message{{Type: models.MessageAgent, Content: "earlier"}})
	assert.Contains(t, body, "Support Team")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Re: Need help", Subject("Need help"))
	assert.Equal(t, "Re: Need help", Subject("RE: Fwd: Need help"))
}
