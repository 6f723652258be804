// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/session"
)

func (a *app) newRunCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "run <key> [prompt...]",
		Short: "Run a conversation and stream the reply to stdout",
		Long: `Run sends the included entries of a conversation to the model and prints
the reply as it streams. A prompt given on the command line (or '-' for
stdin) fills the trailing empty user entry, or is appended as a new one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args[1:], " ")
			if prompt == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				prompt = strings.TrimRight(string(data), "\n")
			}

			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			out := cmd.OutOrStdout()
			sess, err := a.openSession(cmd.Context(), b, args[0], func(ev session.Event) {
				if ev.Type == session.EventDelta {
					fmt.Fprint(out, ev.Delta)
				}
			}, nil)
			if err != nil {
				return err
			}

			if model != "" {
				if err := sess.SetModel(model); err != nil {
					return err
				}
			}
			if prompt != "" {
				if err := setPrompt(sess, prompt); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			runErr := sess.Run(ctx)
			stop()
			fmt.Fprintln(out)

			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sess.Close(closeCtx); err != nil && runErr == nil {
				return fmt.Errorf("save: %w", err)
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "change the conversation's model before running")
	return cmd
}

// promptTarget is the part of a session the prompt helpers need.
type promptTarget interface {
	Snapshot() conversation.State
	Append(role conversation.Role, content string) (conversation.Entry, error)
	Patch(i int, fields conversation.Fields) error
}

// setPrompt writes text into the trailing empty user entry left by the
// previous run, or appends a new user entry when there is none.
func setPrompt(s promptTarget, text string) error {
	entries := s.Snapshot().Entries()
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if last.Role == conversation.RoleUser && last.Content == "" {
			include := true
			return s.Patch(n-1, conversation.Fields{Content: &text, IncludeInQuery: &include})
		}
	}
	_, err := s.Append(conversation.RoleUser, text)
	return err
}
