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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/helpdesk/ingestion/internal/models"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphSender sends through Microsoft Graph sendMail using a MIME body,
// which is the only Graph path that keeps custom Message-ID, In-Reply-To
// and References headers.
type GraphSender struct {
	httpClient   *http.Client
	graphBaseURL string
	sender       string
}

// NewGraphSender creates a Graph sender. httpClient must already carry
// an OAuth2 token source.
func NewGraphSender(httpClient *http.Client, graphBaseURL, sender string) *GraphSender {
	return &GraphSender{
		httpClient:   httpClient,
		graphBaseURL: strings.TrimRight(graphBaseURL, "/"),
		sender:       sender,
	}
}

func newGraphDriver(ctx context.Context, cfg DriverConfig) (Sender, error) {
	if cfg.GraphTenantID == "" || cfg.GraphClientID == "" || cfg.GraphSender == "" {
		return nil, fmt.Errorf("graph driver: tenant id, client id and sender are required")
	}
	tokenURL := cfg.GraphTokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.GraphTenantID)
	}
	base := cfg.GraphBaseURL
	if base == "" {
		base = graphBaseURL
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return NewGraphSender(creds.Client(ctx), base, cfg.GraphSender), nil
}

// Send posts the base64 MIME rendering of email to /users/{sender}/sendMail.
func (g *GraphSender) Send(ctx context.Context, email *models.OutboundEmail) (*models.SendReceipt, error) {
	raw, err := RenderMIME(email)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.graphBaseURL, url.PathEscape(g.sender))
	body := base64.StdEncoding.EncodeToString(raw)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph sendMail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("graph API returned HTTP %d for sendMail: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return &models.SendReceipt{MessageID: email.MessageID, SentAt: now()}, nil
}

// RenderMIME renders email as an RFC 5322 message with an HTML body and
// any attachments.
func RenderMIME(email *models.OutboundEmail) ([]byte, error) {
	var h mail.Header
	h.SetDate(now())
	h.SetAddressList("From", []*mail.Address{{Name: email.From.Name, Address: email.From.Address}})
	to := make([]*mail.Address, 0, len(email.To))
	for _, a := range email.To {
		to = append(to, &mail.Address{Name: a.Name, Address: a.Address})
	}
	h.SetAddressList("To", to)
	if email.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: email.ReplyTo}})
	}
	h.SetSubject(email.Subject)
	for _, kv := range [][2]string{
		{"Message-ID", email.MessageID},
		{"In-Reply-To", email.InReplyTo},
		{"References", email.References},
		{"X-PM-Tag", email.Tag},
	} {
		if kv[1] != "" {
			h.Set(kv[0], kv[1])
		}
	}

	var buf bytes.Buffer
	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mime writer: %w", err)
	}

	tw, err := w.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline part: %w", err)
	}
	if email.TextBody != "" {
		if err := writeInline(tw, "text/plain", email.TextBody); err != nil {
			return nil, err
		}
	}
	if err := writeInline(tw, "text/html", email.HTMLBody); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline part: %w", err)
	}

	for _, a := range email.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.ContentBytes)
		if err != nil {
			return nil, fmt.Errorf("decode attachment %s: %w", a.Name, err)
		}
		var ah mail.AttachmentHeader
		ah.SetContentType(a.ContentType, nil)
		ah.SetFilename(a.Name)
		if a.ContentID != "" {
			ah.Set("Content-ID", "<"+a.ContentID+">")
		}
		aw, err := w.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment %s: %w", a.Name, err)
		}
		if _, err := aw.Write(data); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", a.Name, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("close attachment %s: %w", a.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}
