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
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRawCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raw",
		Short: "Inspect the raw email archive",
	}
	cmd.AddCommand(newRawShowCmd(open))
	return cmd
}

func newRawShowCmd(open opener) *cobra.Command {
	var headersOnly bool

	cmd := &cobra.Command{
		Use:   "show <message-id>",
		Short: "Print an archived webhook payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			raw, err := st.GetRawEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if raw == nil {
				return fmt.Errorf("no archived email with message id %q", args[0])
			}

			doc := raw.Payload
			if headersOnly {
				doc = raw.Headers
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, doc, "", "  "); err != nil {
				pretty.Reset()
				pretty.Write(doc)
			}

			out := cmd.OutOrStdout()
			ref := "-"
			if raw.MessageRef != nil {
				ref = *raw.MessageRef
			}
			fmt.Fprintf(out, "id:          %s\nmessage_id:  %s\nmessage_ref: %s\narchived_at: %s\n\n",
				raw.ID, raw.MessageID, ref, raw.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintln(out, pretty.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&headersOnly, "headers", false, "print only the archived header list")
	return cmd
}

func newHeadersCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "headers <conversation-id>",
		Short: "Show the threading headers of every message in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			conv, err := st.GetConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if conv == nil {
				return fmt.Errorf("no conversation %q", args[0])
			}
			msgs, err := st.ListMessages(cmd.Context(), conv.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  [%s]\n\n", conv.CaseNumber, conv.Subject, conv.Status)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MESSAGE\tTYPE\tMESSAGE-ID\tIN-REPLY-TO\tREFERENCES")
			for _, m := range msgs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Type, dash(m.MessageID), dash(m.InReplyTo), dash(m.References))
			}
			return tw.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
