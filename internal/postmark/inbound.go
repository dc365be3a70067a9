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

// Package postmark decodes Postmark inbound webhook payloads and sends
// mail through the Postmark email API.
package postmark

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"strings"

	"github.com/helpdesk/ingestion/internal/mailaddr"
	"github.com/helpdesk/ingestion/internal/models"
)

// RequiredFields must be present in every inbound payload. Presence is
// what counts: Postmark sends "" for an absent body part.
var RequiredFields = []string{"MessageID", "From", "Subject", "TextBody", "HtmlBody"}

// ErrMalformed marks a body that is not an inbound payload at all.
var ErrMalformed = errors.New("malformed inbound payload")

// ValidationError lists required fields a payload lacks.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// inboundPayload is the subset of Postmark's inbound JSON we use.
type inboundPayload struct {
	MessageID   string
	From        string
	FromName    string
	FromFull    fullAddress
	To          string
	Cc          string
	Bcc         string
	ReplyTo     string
	Subject     string
	Date        string
	MailboxHash string
	TextBody    string
	HTMLBody    string
	Headers     []models.Header
	Attachments []models.Attachment
}

type fullAddress struct {
	Email string `json:"Email"`
	Name  string `json:"Name"`
}

// Decode dispatches on the request content type. Form bodies are
// re-encoded as JSON so the archived payload is always a JSON document.
func Decode(contentType string, body []byte) (*models.InboundEmail, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return DecodeForm(values)
	}
	return DecodeJSON(body)
}

// DecodeJSON parses a Postmark inbound JSON body. Only a body that is not
// a JSON object is ErrMalformed. Fields of the wrong type are dropped and
// logged; a dropped required field is reported as missing. A
// *ValidationError is returned together with the partially decoded email
// so callers can log what they got.
func DecodeJSON(body []byte) (*models.InboundEmail, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformed)
	}

	p, dropped := decodeFields(fields)
	if len(dropped) > 0 {
		slog.Warn("dropped inbound fields with unexpected types",
			"message_id", p.MessageID,
			"fields", dropped,
		)
		for _, name := range dropped {
			delete(fields, name)
		}
	}

	email := p.toInbound(body)
	if err := validate(fields, p.MessageID); err != nil {
		return email, err
	}
	return email, nil
}

// decodeFields decodes each known field on its own so one bad value does
// not cost the rest of the delivery. It returns the names it had to drop.
func decodeFields(fields map[string]json.RawMessage) (inboundPayload, []string) {
	var p inboundPayload
	var dropped []string

	decodeField(fields, "MessageID", &p.MessageID, &dropped)
	decodeField(fields, "From", &p.From, &dropped)
	decodeField(fields, "FromName", &p.FromName, &dropped)
	decodeField(fields, "FromFull", &p.FromFull, &dropped)
	decodeField(fields, "To", &p.To, &dropped)
	decodeField(fields, "Cc", &p.Cc, &dropped)
	decodeField(fields, "Bcc", &p.Bcc, &dropped)
	decodeField(fields, "ReplyTo", &p.ReplyTo, &dropped)
	decodeField(fields, "Subject", &p.Subject, &dropped)
	decodeField(fields, "Date", &p.Date, &dropped)
	decodeField(fields, "MailboxHash", &p.MailboxHash, &dropped)
	decodeField(fields, "TextBody", &p.TextBody, &dropped)
	decodeField(fields, "HtmlBody", &p.HTMLBody, &dropped)
	decodeField(fields, "Headers", &p.Headers, &dropped)
	decodeField(fields, "Attachments", &p.Attachments, &dropped)

	return p, dropped
}

// decodeField leaves dst untouched when the value does not decode, so a
// partially filled slice never leaks out.
func decodeField[T any](fields map[string]json.RawMessage, name string, dst *T, dropped *[]string) {
	raw, ok := fields[name]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		*dropped = append(*dropped, name)
		return
	}
	*dst = v
}

// DecodeForm converts a form-encoded delivery. Headers and Attachments
// may be sent as JSON arrays in their form fields.
func DecodeForm(values url.Values) (*models.InboundEmail, error) {
	doc := make(map[string]any, len(values))
	for key := range values {
		v := values.Get(key)
		if key == "Headers" || key == "Attachments" || key == "FromFull" {
			if trimmed := strings.TrimSpace(v); trimmed != "" && json.Valid([]byte(trimmed)) {
				doc[key] = json.RawMessage(trimmed)
			}
			continue
		}
		doc[key] = v
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return DecodeJSON(body)
}

// validate checks RequiredFields against the raw JSON keys. MessageID must
// also be non-blank since it is the idempotency key.
func validate(fields map[string]json.RawMessage, messageID string) error {
	var missing []string
	for _, name := range RequiredFields {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 && strings.TrimSpace(messageID) == "" {
		missing = append(missing, "MessageID")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func (p inboundPayload) toInbound(body []byte) *models.InboundEmail {
	from := mailaddr.Parse(p.From)
	if p.FromFull.Email != "" {
		from.Email = strings.TrimSpace(p.FromFull.Email)
	}
	if from.Name == "" {
		from.Name = firstNonEmpty(p.FromFull.Name, p.FromName)
	}

	return &models.InboundEmail{
		MessageID:   strings.TrimSpace(p.MessageID),
		From:        models.EmailAddress{Address: from.Email, Name: from.Name},
		RawFrom:     p.From,
		To:          p.To,
		Cc:          p.Cc,
		Bcc:         p.Bcc,
		ReplyTo:     p.ReplyTo,
		Subject:     p.Subject,
		TextBody:    p.TextBody,
		HTMLBody:    p.HTMLBody,
		Date:        p.Date,
		MailboxHash: p.MailboxHash,
		Headers:     p.Headers,
		Attachments: p.Attachments,
		Payload:     append([]byte(nil), body...),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
