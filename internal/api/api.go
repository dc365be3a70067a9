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

// Package api exposes the agent-side HTTP endpoints that trigger
// outbound mail, plus health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/helpdesk/ingestion/internal/metrics"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/outbound"
)

const maxRequestBytes = 25 << 20

// Replier is implemented by outbound.Service.
type Replier interface {
	CreateMessage(ctx context.Context, conversationID string, typ models.MessageType, content string, attachments []models.Attachment) (*outbound.Outcome, error)
	StartConversation(ctx context.Context, req outbound.StartRequest) (*outbound.Outcome, error)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type messageRequest struct {
	Type        models.MessageType  `json:"type"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
}

type conversationRequest struct {
	Email       string              `json:"email"`
	Name        string              `json:"name"`
	Subject     string              `json:"subject"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
}

type outcomeResponse struct {
	ConversationID string    `json:"conversation_id"`
	CaseNumber     string    `json:"case_number"`
	ContactID      string    `json:"contact_id"`
	MessageID      string    `json:"message_id"`
	EmailMessageID string    `json:"email_message_id,omitempty"`
	ThreadID       string    `json:"thread_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Warning        string    `json:"warning,omitempty"`
}

// NewMux returns the API router. /health runs every check and answers
// 503 on the first failure.
func NewMux(replier Replier, checks map[string]Checker) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		var req conversationRequest
		if !decode(w, r, &req) {
			return
		}
		out, err := replier.StartConversation(r.Context(), outbound.StartRequest{
			Email:       req.Email,
			Name:        req.Name,
			Subject:     req.Subject,
			Content:     req.Content,
			Attachments: req.Attachments,
		})
		respond(w, out, err)
	})

	mux.HandleFunc("POST /api/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Type == "" {
			req.Type = models.MessageAgent
		}
		out, err := replier.CreateMessage(r.Context(), r.PathValue("id"), req.Type, req.Content, req.Attachments)
		respond(w, out, err)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				slog.Warn("health check failed", "dependency", name, "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": name + " unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, out *outbound.Outcome, err error) {
	switch {
	case errors.Is(err, outbound.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, outbound.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		slog.Error("agent message request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	resp := outcomeResponse{
		ConversationID: out.Conversation.ID,
		CaseNumber:     out.Conversation.CaseNumber,
		ContactID:      out.Contact.ID,
		MessageID:      out.Message.ID,
		EmailMessageID: out.Message.MessageID,
		CreatedAt:      out.Message.CreatedAt,
		Warning:        out.Warning,
	}
	if out.Receipt != nil {
		resp.ThreadID = out.Receipt.ThreadID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
