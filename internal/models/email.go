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

// Package models defines the data structures shared across the ingestion service.
package models

import "strings"

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Header is a single raw email header as delivered by the provider.
type Header struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// Attachment represents a file attached to an email.
// ContentBytes holds the provider's base64 encoding untouched.
type Attachment struct {
	Name          string `json:"Name"`
	ContentType   string `json:"ContentType"`
	ContentLength int    `json:"ContentLength"`
	ContentBytes  string `json:"Content,omitempty"`
	ContentID     string `json:"ContentID,omitempty"`
}

// InboundEmail is a provider webhook delivery after decoding, before any
// threading or persistence decision has been made.
type InboundEmail struct {
	MessageID   string
	From        EmailAddress
	RawFrom     string
	To          string
	Cc          string
	Bcc         string
	ReplyTo     string
	Subject     string
	TextBody    string
	HTMLBody    string
	Date        string
	MailboxHash string
	Headers     []Header
	Attachments []Attachment

	// Payload is the delivery as a JSON document: the request body as
	// received for JSON deliveries, the form fields re-encoded as JSON for
	// form-encoded ones.
	Payload []byte
}

// Header returns the first header value matching name (case-insensitive).
func (e *InboundEmail) Header(name string) string {
	for _, h := range e.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// InReplyTo returns the In-Reply-To header, if any.
func (e *InboundEmail) InReplyTo() string { return e.Header("In-Reply-To") }

// References returns the References header, if any.
func (e *InboundEmail) References() string { return e.Header("References") }
