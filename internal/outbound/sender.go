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
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/postmark"
)

// Sender hands a composed email to a mail provider.
type Sender interface {
	Send(ctx context.Context, email *models.OutboundEmail) (*models.SendReceipt, error)
}

// DriverConfig carries every driver's settings; each driver reads its own.
type DriverConfig struct {
	HTTPClient *http.Client

	PostmarkServerToken   string
	PostmarkAPIURL        string
	PostmarkMessageStream string

	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphSender       string
	GraphBaseURL      string
	GraphTokenURL     string
}

// Driver constructs a Sender from configuration.
type Driver func(ctx context.Context, cfg DriverConfig) (Sender, error)

// drivers is the explicit name → constructor table for mail.driver.
var drivers = map[string]Driver{
	"postmark": func(_ context.Context, cfg DriverConfig) (Sender, error) {
		if cfg.PostmarkServerToken == "" {
			return nil, fmt.Errorf("postmark driver: server token is required")
		}
		return postmark.NewClient(cfg.HTTPClient, cfg.PostmarkAPIURL, cfg.PostmarkServerToken, cfg.PostmarkMessageStream), nil
	},
	"graph": newGraphDriver,
	"log": func(context.Context, DriverConfig) (Sender, error) {
		return LogSender{}, nil
	},
}

// NewSender returns the Sender registered under name.
func NewSender(ctx context.Context, name string, cfg DriverConfig) (Sender, error) {
	driver, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown mail driver %q (available: %v)", name, Drivers())
	}
	return driver(ctx, cfg)
}

// Drivers lists registered driver names.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogSender writes outbound mail to the log instead of delivering it.
type LogSender struct{}

func (LogSender) Send(_ context.Context, email *models.OutboundEmail) (*models.SendReceipt, error) {
	to := make([]string, 0, len(email.To))
	for _, a := range email.To {
		to = append(to, a.Address)
	}
	slog.Info("outbound email (log driver)",
		"to", to,
		"subject", email.Subject,
		"message_id", email.MessageID,
		"in_reply_to", email.InReplyTo,
		"references", email.References,
		"reply_to", email.ReplyTo,
		"tag", email.Tag,
		"attachments", len(email.Attachments),
	)
	return &models.SendReceipt{MessageID: email.MessageID, SentAt: now()}, nil
}
