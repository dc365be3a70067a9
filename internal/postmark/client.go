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

package postmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/helpdesk/ingestion/internal/models"
)

// DefaultAPIURL is Postmark's public API endpoint.
const DefaultAPIURL = "https://api.postmarkapp.com"

// Client sends email through the Postmark /email endpoint.
type Client struct {
	httpClient    *http.Client
	apiURL        string
	serverToken   string
	messageStream string
}

// NewClient creates a Postmark sender. An empty apiURL selects DefaultAPIURL.
func NewClient(httpClient *http.Client, apiURL, serverToken, messageStream string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient:    httpClient,
		apiURL:        strings.TrimRight(apiURL, "/"),
		serverToken:   serverToken,
		messageStream: messageStream,
	}
}

type sendRequest struct {
	From          string           `json:"From"`
	To            string           `json:"To"`
	Subject       string           `json:"Subject"`
	HTMLBody      string           `json:"HtmlBody,omitempty"`
	TextBody      string           `json:"TextBody,omitempty"`
	ReplyTo       string           `json:"ReplyTo,omitempty"`
	Tag           string           `json:"Tag,omitempty"`
	Headers       []models.Header  `json:"Headers,omitempty"`
	Attachments   []sendAttachment `json:"Attachments,omitempty"`
	MessageStream string           `json:"MessageStream,omitempty"`
}

type sendAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
	ContentID   string `json:"ContentID,omitempty"`
}

type sendResponse struct {
	To          string    `json:"To"`
	SubmittedAt time.Time `json:"SubmittedAt"`
	MessageID   string    `json:"MessageID"`
	ErrorCode   int       `json:"ErrorCode"`
	Message     string    `json:"Message"`
}

// Send delivers email. Threading headers travel as custom headers so
// replies carry them back.
func (c *Client) Send(ctx context.Context, email *models.OutboundEmail) (*models.SendReceipt, error) {
	to := make([]string, 0, len(email.To))
	for _, addr := range email.To {
		to = append(to, addr.String())
	}

	var headers []models.Header
	for _, h := range []models.Header{
		{Name: "Message-ID", Value: email.MessageID},
		{Name: "In-Reply-To", Value: email.InReplyTo},
		{Name: "References", Value: email.References},
		{Name: "X-PM-Tag", Value: email.Tag},
	} {
		if h.Value != "" {
			headers = append(headers, h)
		}
	}

	attachments := make([]sendAttachment, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		attachments = append(attachments, sendAttachment{
			Name:        a.Name,
			Content:     a.ContentBytes,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
		})
	}

	body, err := json.Marshal(sendRequest{
		From:          email.From.String(),
		To:            strings.Join(to, ", "),
		Subject:       email.Subject,
		HTMLBody:      email.HTMLBody,
		TextBody:      email.TextBody,
		ReplyTo:       email.ReplyTo,
		Tag:           email.Tag,
		Headers:       headers,
		Attachments:   attachments,
		MessageStream: c.messageStream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal postmark request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/email", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send via postmark: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read postmark response: %w", err)
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("postmark returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != http.StatusOK || out.ErrorCode != 0 {
		return nil, fmt.Errorf("postmark returned HTTP %d (error %d): %s", resp.StatusCode, out.ErrorCode, out.Message)
	}

	sentAt := out.SubmittedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	return &models.SendReceipt{
		MessageID:  email.MessageID,
		ProviderID: out.MessageID,
		SentAt:     sentAt,
	}, nil
}
