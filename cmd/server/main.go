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

// Helpdesk Ingestion Service
//
// Entry point for the helpdesk email service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL (bootstrapping the schema) and Redis
//  3. Serves the Postmark inbound webhook on its own port
//  4. Serves the agent API, /health and /metrics
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helpdesk/ingestion/internal/api"
	"github.com/helpdesk/ingestion/internal/config"
	"github.com/helpdesk/ingestion/internal/dedup"
	"github.com/helpdesk/ingestion/internal/ingest"
	"github.com/helpdesk/ingestion/internal/outbound"
	"github.com/helpdesk/ingestion/internal/queue"
	"github.com/helpdesk/ingestion/internal/store/postgres"
	"github.com/helpdesk/ingestion/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.LogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting helpdesk ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mail_driver", cfg.Mail.Driver,
		"webhook_path", cfg.Webhook.Path,
		"reopen_statuses", cfg.Ingest.ReopenStatuses,
		"case_insensitive_contacts", cfg.Ingest.CaseInsensitiveContacts,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	st, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb, cfg.DedupTTL)

	// --- Inbound pipeline ---
	pipeline := ingest.NewPipeline(st, ingest.Config{
		ReopenStatuses:          cfg.Ingest.ReopenStatuses,
		CaseInsensitiveContacts: cfg.Ingest.CaseInsensitiveContacts,
		MaxContentBytes:         cfg.Ingest.MaxContentBytes,
	}, ingest.WithDedup(filter), ingest.WithEvents(publisher))

	// --- Outbound mail ---
	sender, err := outbound.NewSender(ctx, cfg.Mail.Driver, outbound.DriverConfig{
		HTTPClient:            &http.Client{Timeout: 30 * time.Second},
		PostmarkServerToken:   cfg.Mail.PostmarkServerToken,
		PostmarkAPIURL:        cfg.Mail.PostmarkAPIURL,
		PostmarkMessageStream: cfg.Mail.PostmarkMessageStream,
		GraphTenantID:         cfg.Mail.GraphTenantID,
		GraphClientID:         cfg.Mail.GraphClientID,
		GraphClientSecret:     cfg.Mail.GraphClientSecret,
		GraphSender:           cfg.Mail.GraphSender,
	})
	if err != nil {
		slog.Error("failed to configure mail driver", "driver", cfg.Mail.Driver, "error", err)
		os.Exit(1)
	}
	composer := outbound.NewComposer(cfg.Mail.AppDomain, cfg.Mail.InboundAddress, cfg.Mail.From)
	replies := outbound.NewService(st, composer, sender, cfg.Mail.Driver, cfg.Ingest.CaseInsensitiveContacts, publisher)

	// --- Webhook server ---
	handler := webhook.NewHandler(pipeline, webhook.Options{
		Username:        cfg.Webhook.Username,
		Password:        cfg.Webhook.Password,
		MaxPayloadBytes: cfg.Webhook.MaxPayloadBytes,
	})
	ready, err := webhook.Serve(ctx, cfg.WebhookPort, cfg.Webhook.Path, handler)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- API, health and metrics ---
	mux := api.NewMux(replies, map[string]api.Checker{
		"postgres": st.Ping,
		"redis":    publisher.Ping,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // stops the webhook server

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
	}()

	slog.Info("helpdesk API listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("helpdesk ingestion service stopped")
}
