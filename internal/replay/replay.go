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

// Package replay pushes exported webhook payloads back through the inbound
// pipeline. Replays are idempotent: payloads whose Message-ID is already
// archived are counted as skipped.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/helpdesk/ingestion/internal/ingest"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/postmark"
)

// Processor is implemented by ingest.Pipeline.
type Processor interface {
	Process(ctx context.Context, email *models.InboundEmail) (*ingest.Result, error)
}

// Result summarises a completed replay run.
type Result struct {
	FileResults []FileResult
	New         int
	Skipped     int
	Invalid     int
	Errors      int
	Elapsed     time.Duration
}

// FileResult is the outcome for one payload file.
type FileResult struct {
	Path      string
	MessageID string
	Outcome   string // "new", "skipped", "invalid" or "error"
	Err       error
}

// Runner replays payload files.
type Runner struct {
	processor Processor
	delay     time.Duration // pause between payloads to spare the database
}

// NewRunner creates a replay runner.
func NewRunner(processor Processor, delay time.Duration) *Runner {
	return &Runner{processor: processor, delay: delay}
}

// Run replays every path. Directories are walked for *.json files, which
// are processed in lexical order. A failing payload does not stop the run.
func (r *Runner) Run(ctx context.Context, paths []string) (*Result, error) {
	start := time.Now()

	files, err := collect(paths)
	if err != nil {
		return nil, err
	}

	slog.Info("starting payload replay", "files", len(files))

	result := &Result{}
	for i, path := range files {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fr := r.replayFile(ctx, path)
		result.FileResults = append(result.FileResults, fr)
		switch fr.Outcome {
		case "new":
			result.New++
		case "skipped":
			result.Skipped++
		case "invalid":
			result.Invalid++
		default:
			result.Errors++
		}
	}

	result.Elapsed = time.Since(start)

	slog.Info("payload replay complete",
		"new", result.New,
		"skipped", result.Skipped,
		"invalid", result.Invalid,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *Runner) replayFile(ctx context.Context, path string) FileResult {
	fr := FileResult{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		fr.Outcome, fr.Err = "error", fmt.Errorf("read %s: %w", path, err)
		return fr
	}

	email, err := postmark.DecodeJSON(data)
	if err != nil {
		if email != nil {
			fr.MessageID = email.MessageID
		}
		slog.Warn("replay: payload rejected", "path", path, "error", err)
		fr.Outcome, fr.Err = "invalid", err
		return fr
	}
	fr.MessageID = email.MessageID

	_, err = r.processor.Process(ctx, email)
	switch {
	case errors.Is(err, ingest.ErrDuplicate):
		fr.Outcome = "skipped"
	case err != nil:
		slog.Warn("replay: process failed",
			"path", path,
			"message_id", email.MessageID,
			"error", err,
		)
		fr.Outcome, fr.Err = "error", err
	default:
		fr.Outcome = "new"
	}
	return fr
}

func collect(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
