// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/storage"
	"github.com/jeranaias/promptbuilder/internal/util"
)

// =============================================================================
// LIST
// =============================================================================

func (a *app) newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			list, err := b.catalog.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No conversations. Create one with: promptbuilder create <name>"))
				return nil
			}
			printSummaries(out, list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func printSummaries(out io.Writer, list []storage.Summary) {
	t := table.New().
		Headers("KEY", "NAME", "MODEL", "ENTRIES", "CREATED").
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(true).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, s := range list {
		t.Row(s.Key, util.TruncateWidth(s.Name, 40), s.Model, strconv.Itoa(s.Entries), s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(out, t.Render())
}

// =============================================================================
// CREATE / DELETE
// =============================================================================

func (a *app) newCreateCmd() *cobra.Command {
	var model, system string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				model = a.cfg.Ollama.DefaultModel
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			ctx := cmd.Context()
			key, conv, err := b.catalog.Create(ctx, args[0], model)
			if err != nil {
				return err
			}
			if system != "" {
				conv.Entries = append(conv.Entries, conversation.NewEntry(conversation.RoleSystem, system))
			}
			// A fresh conversation starts with an empty user turn to fill in.
			conv.Entries = append(conv.Entries, conversation.NewEntry(conversation.RoleUser, ""))
			if err := b.catalog.Save(ctx, key, conv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", successStyle.Render("Created"), key, conv.Model)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to run (default from config)")
	cmd.Flags().StringVar(&system, "system", "", "initial system prompt")
	return cmd
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			if err := b.catalog.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Deleted"), args[0])
			return nil
		},
	}
}

// =============================================================================
// SHOW
// =============================================================================

func (a *app) newShowCmd() *cobra.Command {
	var asJSON, payload bool
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			conv, err := b.catalog.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case payload:
				return writeJSON(out, conv.Payload())
			case asJSON:
				return writeJSON(out, conv)
			}
			a.printConversation(out, conv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the stored record as JSON")
	cmd.Flags().BoolVar(&payload, "payload", false, "output the messages the next run would send")
	return cmd
}

func (a *app) printConversation(out io.Writer, conv *conversation.Conversation) {
	fmt.Fprintf(out, "%s  %s\n", titleStyle.Render(conv.Name),
		labelStyle.Render(fmt.Sprintf("%s | %d entries | %d tokens", conv.Model, len(conv.Entries), conv.TotalTokens())))

	renderer := a.markdownRenderer()
	for i, e := range conv.Entries {
		include := "[x]"
		if !e.IncludeInQuery {
			include = "[ ]"
		}
		tok := "?"
		if e.HasTokens() {
			tok = strconv.Itoa(e.TokenCount())
		}
		fmt.Fprintf(out, "\n%s %s %s\n", include, roleStyle(e.Role.String()).Render(e.Role.String()),
			dimStyle.Render(fmt.Sprintf("#%d  %s tok", i+1, tok)))

		content := e.Content
		if content == "" {
			fmt.Fprintln(out, dimStyle.Render("(empty)"))
			continue
		}
		if renderer != nil && e.Role == conversation.RoleAssistant {
			if rendered, err := renderer.Render(content); err == nil {
				content = strings.Trim(rendered, "\n")
			}
		}
		fmt.Fprintln(out, content)
	}
}

// markdownRenderer returns a glamour renderer when output is a styled
// terminal, nil otherwise.
func (a *app) markdownRenderer() *glamour.TermRenderer {
	if !a.cfg.UI.Markdown || a.profile == termenv.Ascii {
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(GetTerminalWidth(), 100)),
	)
	if err != nil {
		return nil
	}
	return r
}

// =============================================================================
// MODELS / TOKENS
// =============================================================================

func (a *app) newModelsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available on the Ollama server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			models, err := b.models(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, ollama.ModelNames(models))
			}
			if len(models) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No models installed. Pull one with: ollama pull llama3"))
				return nil
			}
			for _, m := range models {
				fmt.Fprintf(out, "%s  %s\n", util.PadRight(m.Name, 32), dimStyle.Render(m.FormatSize()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func (a *app) newTokensCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "tokens <text>...",
		Short: "Estimate the token count of text ('-' reads stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				model = a.cfg.Ollama.DefaultModel
			}
			text := strings.Join(args, " ")
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(data)
			}

			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()
			if b.estimator == nil {
				return fmt.Errorf("no token estimator available")
			}

			n, err := b.estimator.Estimate(cmd.Context(), model, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model whose tokenizer to use")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
