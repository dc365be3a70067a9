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

// helpdeskctl is the operator CLI for the helpdesk ingestion service:
// schema migration, payload replay and inspection of archived mail and
// threading headers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/helpdesk/ingestion/internal/config"
	"github.com/helpdesk/ingestion/internal/store"
	"github.com/helpdesk/ingestion/internal/store/postgres"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// openStore connects to the configured database. Replaced in tests.
var openStore = func(ctx context.Context, databaseURL string) (store.Store, error) {
	if databaseURL == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		databaseURL = cfg.DatabaseURL
	}
	return postgres.Connect(ctx, databaseURL)
}

func newRootCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:          "helpdeskctl",
		Short:        "Helpdesk ingestion operator tool",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (default from config / DATABASE_URL)")

	open := func(cmd *cobra.Command) (store.Store, error) {
		return openStore(cmd.Context(), databaseURL)
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(open))
	cmd.AddCommand(newReplayCmd(open))
	cmd.AddCommand(newRawCmd(open))
	cmd.AddCommand(newHeadersCmd(open))
	return cmd
}

type opener func(cmd *cobra.Command) (store.Store, error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "helpdeskctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Schema ready")
			return nil
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return 1
	}
	return 0
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(),
	})))
	os.Exit(execute(newRootCmd()))
}
