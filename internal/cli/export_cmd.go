// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/export"
)

func (a *app) newExportCmd() *cobra.Command {
	var (
		format     string
		dir        string
		stdout     bool
		all        bool
		noMetadata bool
		theme      string
		open       bool
	)
	cmd := &cobra.Command{
		Use:   "export <key>",
		Short: "Export a conversation as Markdown, HTML or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return usageErrorf("%v", err)
			}
			opts := export.DefaultOptions()
			opts.IncludeExcluded = all
			opts.IncludeMetadata = !noMetadata
			opts.Theme = theme
			exp, err := export.New(f, opts)
			if err != nil {
				return err
			}

			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			key := args[0]
			conv, err := b.catalog.Load(cmd.Context(), key)
			if err != nil {
				return err
			}

			if stdout {
				data, err := exp.Export(conv)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			path, err := export.ExportToFile(conv, key, exp, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Exported"), path)
			if open {
				if err := export.OpenFile(path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s could not open file: %v\n", warningStyle.Render("[Warning]"), err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown, html or json")
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "output directory")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write to stdout instead of a file")
	cmd.Flags().BoolVar(&all, "all", false, "include entries excluded from the query")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "omit model, dates and token counts")
	cmd.Flags().StringVar(&theme, "theme", "dark", "HTML theme (dark or light)")
	cmd.Flags().BoolVar(&open, "open", false, "open the file after exporting")
	return cmd
}
