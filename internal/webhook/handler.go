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

// Package webhook receives Postmark inbound deliveries. Apart from
// transport-level problems (wrong method, oversized or unparseable body,
// bad credentials) every request is acknowledged with 200 so the
// provider never retries; failures are logged instead.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/helpdesk/ingestion/internal/ingest"
	"github.com/helpdesk/ingestion/internal/metrics"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/postmark"
)

const (
	// DefaultMaxPayloadBytes covers Postmark's 35 MB inbound limit once
	// attachments are base64 encoded.
	DefaultMaxPayloadBytes = 50 << 20
	defaultTimeout         = 30 * time.Second

	bodyOK     = "OK"
	bodyLogged = "Error logged"
)

// Processor runs one decoded email through ingestion.
type Processor interface {
	Process(ctx context.Context, email *models.InboundEmail) (*ingest.Result, error)
}

// Options configures a Handler. An empty Username disables basic auth.
type Options struct {
	Username        string
	Password        string
	MaxPayloadBytes int64
	Timeout         time.Duration
}

// Handler serves the inbound webhook.
type Handler struct {
	processor Processor
	opts      Options
}

// NewHandler creates an inbound webhook handler.
func NewHandler(processor Processor, opts Options) *Handler {
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Handler{processor: processor, opts: opts}
}

// ServeHTTP handles one delivery.
//
// Response codes:
//   - 405 for anything but POST
//   - 401 when basic auth is configured and does not match
//   - 413 when the body exceeds MaxPayloadBytes
//   - 400 when the body is not an inbound payload at all
//   - 200 otherwise, with "OK" or "Error logged"
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		metrics.InboundWebhooks.WithLabelValues(metrics.OutcomeRejected).Inc()
		slog.Warn("inbound webhook credentials mismatch", "remote_addr", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Basic realm="inbound"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxPayloadBytes))
	if err != nil {
		metrics.InboundWebhooks.WithLabelValues(metrics.OutcomeRejected).Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("inbound payload too large", "limit_bytes", tooLarge.Limit)
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("failed to read inbound body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	email, err := postmark.Decode(r.Header.Get("Content-Type"), body)
	var invalid *postmark.ValidationError
	if err != nil && !errors.As(err, &invalid) {
		metrics.InboundWebhooks.WithLabelValues(metrics.OutcomeRejected).Inc()
		slog.Warn("inbound body is not a payload", "body_len", len(body), "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if invalid != nil {
		metrics.InboundWebhooks.WithLabelValues(metrics.OutcomeInvalid).Inc()
		slog.Error("inbound payload failed validation",
			"message_id", email.MessageID,
			"from", email.RawFrom,
			"subject", email.Subject,
			"missing", invalid.Missing,
		)
		reply(w, bodyLogged)
		return
	}

	// The provider hanging up must not abort a half-done write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.opts.Timeout)
	defer cancel()

	res, err := h.processor.Process(ctx, email)
	switch {
	case errors.Is(err, ingest.ErrDuplicate):
		metrics.InboundWebhooks.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		slog.Info("duplicate inbound delivery acknowledged", "message_id", email.MessageID)
		reply(w, bodyOK)
	case err != nil:
		metrics.InboundWebhooks.WithLabelValues(metrics.OutcomeError).Inc()
		slog.Error("failed to process inbound email",
			"message_id", email.MessageID,
			"from", email.From.Address,
			"subject", email.Subject,
			"error", err,
		)
		reply(w, bodyLogged)
	default:
		metrics.InboundWebhooks.WithLabelValues(metrics.OutcomeProcessed).Inc()
		slog.Debug("inbound delivery processed",
			"message_id", email.MessageID,
			"conversation_id", res.Conversation.ID,
		)
		reply(w, bodyOK)
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.opts.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.opts.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.opts.Password)) == 1
	return userOK && passOK
}

func reply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// Serve starts the webhook HTTP server on the given port with handler
// mounted at path. It binds the port immediately and signals readiness
// via the returned channel before starting to accept connections.
func Serve(ctx context.Context, port int, path string, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("webhook server listening", "port", port, "path", path)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
