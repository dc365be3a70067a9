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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk/ingestion/internal/models"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "helpdesk", cfg.EventsQueue)
	assert.Equal(t, 24*time.Hour, cfg.DedupTTL)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8081, cfg.WebhookPort)
	assert.Equal(t, "/webhooks/postmark/inbound", cfg.Webhook.Path)
	assert.Equal(t, int64(50<<20), cfg.Webhook.MaxPayloadBytes)
	assert.Equal(t, "log", cfg.Mail.Driver)
	assert.Equal(t, "support@localhost", cfg.Mail.From.Address)
	assert.Equal(t, "support@localhost", cfg.Mail.InboundAddress)
	assert.Equal(t, []models.Status{models.StatusClosed}, cfg.Ingest.ReopenStatuses)
	assert.False(t, cfg.Ingest.CaseInsensitiveContacts)
}

func TestParse_YAML(t *testing.T) {
	t.Setenv("TEST_POSTMARK_TOKEN", "pm-secret")

	cfg, err := Parse([]byte(`
database:
  url: postgres://db/helpdesk
redis:
  url: redis://cache:6379/1
  queues:
    events: helpdesk-events
  dedup_ttl: 2h
server:
  port: 9000
  webhook_port: 9001
webhook:
  path: /inbound
  basic_auth:
    username: postmark
    password: hunter2
  max_payload_bytes: 1024
mail:
  driver: postmark
  app_domain: helpdesk.example.com
  inbound_address: support@inbound.example.com
  from:
    address: help@example.com
    name: Example Support
  postmark:
    server_token: ${TEST_POSTMARK_TOKEN}
ingest:
  reopen_statuses: [closed, resolved]
  case_insensitive_contacts: true
  max_content_bytes: 65536
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/helpdesk", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, "helpdesk-events", cfg.EventsQueue)
	assert.Equal(t, 2*time.Hour, cfg.DedupTTL)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 9001, cfg.WebhookPort)
	assert.Equal(t, WebhookConfig{Path: "/inbound", Username: "postmark", Password: "hunter2", MaxPayloadBytes: 1024}, cfg.Webhook)
	assert.Equal(t, "postmark", cfg.Mail.Driver)
	assert.Equal(t, "pm-secret", cfg.Mail.PostmarkServerToken)
	assert.Equal(t, "outbound", cfg.Mail.PostmarkMessageStream)
	assert.Equal(t, models.EmailAddress{Address: "help@example.com", Name: "Example Support"}, cfg.Mail.From)
	assert.Equal(t, "support@inbound.example.com", cfg.Mail.InboundAddress)
	assert.Equal(t, []models.Status{models.StatusClosed, models.StatusResolved}, cfg.Ingest.ReopenStatuses)
	assert.True(t, cfg.Ingest.CaseInsensitiveContacts)
	assert.Equal(t, 65536, cfg.Ingest.MaxContentBytes)
}

func TestParse_EnvFallback(t *testing.T) {
	t.Setenv("MAIL_DRIVER", "graph")
	t.Setenv("GRAPH_SENDER", "help@example.com")
	t.Setenv("REOPEN_STATUSES", "closed, cancelled")
	t.Setenv("CASE_INSENSITIVE_CONTACTS", "true")

	cfg, err := Parse([]byte("mail:\n  app_domain: example.com\n"))
	require.NoError(t, err)

	assert.Equal(t, "graph", cfg.Mail.Driver)
	assert.Equal(t, "help@example.com", cfg.Mail.GraphSender)
	assert.Equal(t, "example.com", cfg.Mail.AppDomain)
	assert.Equal(t, []models.Status{models.StatusClosed, models.StatusCancelled}, cfg.Ingest.ReopenStatuses)
	assert.True(t, cfg.Ingest.CaseInsensitiveContacts)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":       "server: [",
		"bad status":     "ingest:\n  reopen_statuses: [archived]\n",
		"bad ttl":        "redis:\n  dedup_ttl: soon\n",
		"relative path":  "webhook:\n  path: inbound\n",
		"port collision": "server:\n  port: 9000\n  webhook_port: 9000\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileIsNotFatal(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "log", cfg.Mail.Driver)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mail:\n  driver: postmark\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postmark", cfg.Mail.Driver)
}

func TestLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, LogLevel())

	t.Setenv("LOG_LEVEL", "WARN")
	assert.Equal(t, slog.LevelWarn, LogLevel())

	t.Setenv("LOG_LEVEL", "chatty")
	assert.Equal(t, slog.LevelInfo, LogLevel())
}
