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

// Package memory is an in-process store used by tests and local runs.
// It enforces the same unique constraints as the Postgres schema and
// serialises transactions behind a single mutex.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
)

type data struct {
	contacts       map[string]models.Contact
	contactByEmail map[string]string
	conversations  map[string]models.Conversation
	caseNumbers    map[string]string
	messages       []models.Message
	rawEmails      map[string]models.RawEmail
}

func newData() *data {
	return &data{
		contacts:       make(map[string]models.Contact),
		contactByEmail: make(map[string]string),
		conversations:  make(map[string]models.Conversation),
		caseNumbers:    make(map[string]string),
		rawEmails:      make(map[string]models.RawEmail),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.contacts {
		c.contacts[k] = v
	}
	for k, v := range d.contactByEmail {
		c.contactByEmail[k] = v
	}
	for k, v := range d.conversations {
		c.conversations[k] = v
	}
	for k, v := range d.caseNumbers {
		c.caseNumbers[k] = v
	}
	c.messages = append([]models.Message(nil), d.messages...)
	for k, v := range d.rawEmails {
		c.rawEmails[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory store.Store.
type Store struct {
	mu sync.Mutex
	d  *data
}

var _ store.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{d: newData()}
}

// WithTx holds the store lock for the whole of fn and restores the
// pre-transaction state if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	v := &view{s: s}
	if err := fn(v); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// locked runs fn against the live data outside any transaction.
func (s *Store) locked(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&view{s: s})
}

// The methods below implement store.Queries outside a transaction.

func (s *Store) FindContactByEmail(ctx context.Context, email string, ci bool) (c *models.Contact, err error) {
	err = s.locked(func(v *view) error { c, err = v.FindContactByEmail(ctx, email, ci); return err })
	return c, err
}

func (s *Store) GetContact(ctx context.Context, id string) (c *models.Contact, err error) {
	err = s.locked(func(v *view) error { c, err = v.GetContact(ctx, id); return err })
	return c, err
}

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	return s.locked(func(v *view) error { return v.CreateContact(ctx, c) })
}

func (s *Store) GetConversation(ctx context.Context, id string) (c *models.Conversation, err error) {
	err = s.locked(func(v *view) error { c, err = v.GetConversation(ctx, id); return err })
	return c, err
}

func (s *Store) FindActiveConversationBySubject(ctx context.Context, contactID string, subjects []string) (c *models.Conversation, err error) {
	err = s.locked(func(v *view) error { c, err = v.FindActiveConversationBySubject(ctx, contactID, subjects); return err })
	return c, err
}

func (s *Store) CaseNumberExists(ctx context.Context, caseNumber string) (ok bool, err error) {
	err = s.locked(func(v *view) error { ok, err = v.CaseNumberExists(ctx, caseNumber); return err })
	return ok, err
}

func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	return s.locked(func(v *view) error { return v.CreateConversation(ctx, c) })
}

func (s *Store) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	return s.locked(func(v *view) error { return v.UpdateConversation(ctx, c) })
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	return s.locked(func(v *view) error { return v.CreateMessage(ctx, m) })
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) (ms []models.Message, err error) {
	err = s.locked(func(v *view) error { ms, err = v.ListMessages(ctx, conversationID); return err })
	return ms, err
}

func (s *Store) UpdateMessageThreading(ctx context.Context, m *models.Message) error {
	return s.locked(func(v *view) error { return v.UpdateMessageThreading(ctx, m) })
}

func (s *Store) RawEmailExists(ctx context.Context, messageID string) (ok bool, err error) {
	err = s.locked(func(v *view) error { ok, err = v.RawEmailExists(ctx, messageID); return err })
	return ok, err
}

func (s *Store) GetRawEmail(ctx context.Context, messageID string) (r *models.RawEmail, err error) {
	err = s.locked(func(v *view) error { r, err = v.GetRawEmail(ctx, messageID); return err })
	return r, err
}

func (s *Store) CreateRawEmail(ctx context.Context, r *models.RawEmail) error {
	return s.locked(func(v *view) error { return v.CreateRawEmail(ctx, r) })
}

func (s *Store) Savepoint(ctx context.Context, fn func(store.Queries) error) error {
	return s.WithTx(ctx, fn)
}

// DeleteMessage removes a message the way a purge would: raw emails that
// referenced it keep existing with a nil MessageRef.
func (s *Store) DeleteMessage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.d.messages[:0]
	for _, m := range s.d.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.d.messages = kept
	for k, r := range s.d.rawEmails {
		if r.MessageRef != nil && *r.MessageRef == id {
			r.MessageRef = nil
			s.d.rawEmails[k] = r
		}
	}
}

// Counts reports row counts per table, for tests.
func (s *Store) Counts() (contacts, conversations, messages, rawEmails int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.contacts), len(s.d.conversations), len(s.d.messages), len(s.d.rawEmails)
}

// Conversations returns a copy of every conversation, for tests.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.d.conversations))
	for _, c := range s.d.conversations {
		out = append(out, c)
	}
	return out
}

// view operates on the store's data without taking the lock; the caller
// already holds it.
type view struct {
	s *Store
}

func (v *view) d() *data { return v.s.d }

func (v *view) FindContactByEmail(_ context.Context, email string, caseInsensitive bool) (*models.Contact, error) {
	if !caseInsensitive {
		id, ok := v.d().contactByEmail[email]
		if !ok {
			return nil, nil
		}
		c := v.d().contacts[id]
		return &c, nil
	}

	var found *models.Contact
	for _, c := range v.d().contacts {
		if !strings.EqualFold(c.Email, email) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) ||
			(c.CreatedAt.Equal(found.CreatedAt) && c.ID < found.ID) {
			found = &c
		}
	}
	return found, nil
}

func (v *view) GetContact(_ context.Context, id string) (*models.Contact, error) {
	c, ok := v.d().contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (v *view) CreateContact(_ context.Context, c *models.Contact) error {
	if _, taken := v.d().contactByEmail[c.Email]; taken {
		return store.ErrConflict
	}
	if c.ID == "" {
		c.ID = store.NewID()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	v.d().contacts[c.ID] = *c
	v.d().contactByEmail[c.Email] = c.ID
	return nil
}

func (v *view) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	c, ok := v.d().conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (v *view) FindActiveConversationBySubject(_ context.Context, contactID string, subjects []string) (*models.Conversation, error) {
	var best *models.Conversation
	for _, c := range v.d().conversations {
		if c.ContactID != contactID || c.Status == models.StatusClosed || !contains(subjects, c.Subject) {
			continue
		}
		if best == nil || c.LastActivityAt.After(best.LastActivityAt) ||
			(c.LastActivityAt.Equal(best.LastActivityAt) && c.ID > best.ID) {
			best = &c
		}
	}
	return best, nil
}

func (v *view) CaseNumberExists(_ context.Context, caseNumber string) (bool, error) {
	_, ok := v.d().caseNumbers[caseNumber]
	return ok, nil
}

func (v *view) CreateConversation(_ context.Context, c *models.Conversation) error {
	if c.CaseNumber == "" {
		return fmt.Errorf("create conversation: case number is required")
	}
	if _, taken := v.d().caseNumbers[c.CaseNumber]; taken {
		return store.ErrConflict
	}
	if _, ok := v.d().contacts[c.ContactID]; !ok {
		return fmt.Errorf("create conversation: contact %s does not exist", c.ContactID)
	}
	if c.ID == "" {
		c.ID = store.NewID()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	v.d().conversations[c.ID] = *c
	v.d().caseNumbers[c.CaseNumber] = c.ID
	return nil
}

func (v *view) UpdateConversation(_ context.Context, c *models.Conversation) error {
	existing, ok := v.d().conversations[c.ID]
	if !ok {
		return fmt.Errorf("update conversation %s: not found", c.ID)
	}
	// case_number and created_at are immutable.
	c.CaseNumber = existing.CaseNumber
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	v.d().conversations[c.ID] = *c
	return nil
}

func (v *view) CreateMessage(_ context.Context, m *models.Message) error {
	if _, ok := v.d().conversations[m.ConversationID]; !ok {
		return fmt.Errorf("create message: conversation %s does not exist", m.ConversationID)
	}
	if m.ID == "" {
		m.ID = store.NewID()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	v.d().messages = append(v.d().messages, *m)
	return nil
}

func (v *view) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	for _, m := range v.d().messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (v *view) UpdateMessageThreading(_ context.Context, m *models.Message) error {
	for i := range v.d().messages {
		if v.d().messages[i].ID == m.ID {
			v.d().messages[i].MessageID = m.MessageID
			v.d().messages[i].InReplyTo = m.InReplyTo
			v.d().messages[i].References = m.References
			v.d().messages[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("update message %s: not found", m.ID)
}

func (v *view) RawEmailExists(_ context.Context, messageID string) (bool, error) {
	_, ok := v.d().rawEmails[messageID]
	return ok, nil
}

func (v *view) GetRawEmail(_ context.Context, messageID string) (*models.RawEmail, error) {
	r, ok := v.d().rawEmails[messageID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (v *view) CreateRawEmail(_ context.Context, r *models.RawEmail) error {
	if _, taken := v.d().rawEmails[r.MessageID]; taken {
		return store.ErrConflict
	}
	if r.ID == "" {
		r.ID = store.NewID()
	}
	r.CreatedAt = time.Now().UTC()
	v.d().rawEmails[r.MessageID] = *r
	return nil
}

func (v *view) Savepoint(_ context.Context, fn func(store.Queries) error) error {
	snapshot := v.s.d.clone()
	if err := fn(v); err != nil {
		v.s.d = snapshot
		return err
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
