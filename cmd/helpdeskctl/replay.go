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

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/helpdesk/ingestion/internal/ingest"
	"github.com/helpdesk/ingestion/internal/replay"
)

func newReplayCmd(open opener) *cobra.Command {
	var (
		delay           time.Duration
		caseInsensitive bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file-or-dir>...",
		Short: "Run exported inbound payloads through the pipeline",
		Long: "Replays Postmark inbound JSON payloads. Directories are walked for *.json files.\n" +
			"Payloads whose Message-ID is already archived are skipped.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			pipeline := ingest.NewPipeline(st, ingest.Config{CaseInsensitiveContacts: caseInsensitive})
			res, err := replay.NewRunner(pipeline, delay).Run(cmd.Context(), args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, fr := range res.FileResults {
				if fr.Err != nil {
					fmt.Fprintf(out, "%-8s %s (%s): %v\n", fr.Outcome, fr.Path, fr.MessageID, fr.Err)
					continue
				}
				fmt.Fprintf(out, "%-8s %s (%s)\n", fr.Outcome, fr.Path, fr.MessageID)
			}
			fmt.Fprintf(out, "new=%d skipped=%d invalid=%d errors=%d elapsed=%s\n",
				res.New, res.Skipped, res.Invalid, res.Errors, res.Elapsed.Round(time.Millisecond))
			if res.Errors > 0 {
				return fmt.Errorf("%d payloads failed", res.Errors)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between payloads")
	cmd.Flags().BoolVar(&caseInsensitive, "case-insensitive-contacts", false, "match contacts by lower(email)")
	return cmd
}
