// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/ui/editor"
	"github.com/jeranaias/promptbuilder/internal/ui/styles"
)

func (a *app) newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:     "tui <key>",
		Aliases: []string{"edit"},
		Short:   "Edit and run a conversation interactively",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("tui"); err != nil {
				return err
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			notifier := editor.NewNotifier()
			sess, err := a.openSession(cmd.Context(), b, args[0], notifier.Listen, nil)
			if err != nil {
				return err
			}

			m := editor.New(sess, editor.Options{
				Theme:    styles.NewThemeWithProfile(a.profile),
				Notifier: notifier,
				Markdown: a.cfg.UI.Markdown && !a.cfg.UI.NoColor,
			})
			_, runErr := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sess.Close(ctx); err != nil {
				return fmt.Errorf("save on exit: %w", err)
			}
			return runErr
		},
	}
}
