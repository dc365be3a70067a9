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

package models

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen             Status = "open"
	StatusAwaitingCustomer Status = "awaiting_customer"
	StatusAwaitingAgent    Status = "awaiting_agent"
	StatusResolved         Status = "resolved"
	StatusClosed           Status = "closed"
	StatusCancelled        Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAwaitingCustomer, StatusAwaitingAgent,
		StatusResolved, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Priority of a conversation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// MessageType identifies who authored a message.
type MessageType string

const (
	MessageCustomer MessageType = "customer"
	MessageAgent    MessageType = "agent"
	// MessageInternal notes are never emailed out.
	MessageInternal MessageType = "internal"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageCustomer || t == MessageAgent || t == MessageInternal
}

// Contact is an external correspondent.
type Contact struct {
	ID        string
	Name      string
	Email     string
	CompanyID *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is a thread of correspondence with one contact.
type Conversation struct {
	ID             string
	ContactID      string
	Subject        string
	Status         Status
	Priority       Priority
	LastActivityAt time.Time
	Unread         bool
	ReadAt         *time.Time
	CaseNumber     string
	AssignedTo     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message is one unit of correspondence inside a conversation.
// Threading fields are empty until the message is sent by email.
type Message struct {
	ID             string
	ConversationID string
	Type           MessageType
	Content        string
	MessageID      string
	InReplyTo      string
	References     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RawEmail is the append-only archive of a provider webhook delivery.
type RawEmail struct {
	ID         string
	MessageID  string
	MessageRef *string
	Headers    json.RawMessage
	Payload    json.RawMessage
	RawContent string
	CreatedAt  time.Time
}

// EventType names a domain event emitted to the task queue.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventMessageCreated      EventType = "message.created"
)

// Event is emitted after a pipeline commit so downstream workers
// (embeddings, AI answer drafts) can react without running in-process.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	ContactID      string    `json:"contact_id"`
	MessageType    string    `json:"message_type,omitempty"`
	OccurredAt     string    `json:"occurred_at"`
}
