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
	"net/mail"
	"time"
)

// OutboundEmail is everything a mail driver needs to deliver one message
// with its threading headers intact.
type OutboundEmail struct {
	From        EmailAddress
	To          []EmailAddress
	Subject     string
	HTMLBody    string
	TextBody    string
	MessageID   string
	InReplyTo   string
	References  string
	ReplyTo     string
	Tag         string
	Attachments []Attachment
}

// SendReceipt confirms a handoff to the mail provider.
type SendReceipt struct {
	MessageID  string
	ThreadID   string
	ProviderID string
	SentAt     time.Time
}

// String formats the address for a From/To header.
func (a EmailAddress) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}
