// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/client"
	"github.com/jeranaias/promptbuilder/internal/server"
)

// statusReport is the --json form of the status command.
type statusReport struct {
	Mode   string                 `json:"mode"`
	Server string                 `json:"server,omitempty"`
	Health *server.HealthResponse `json:"health,omitempty"`
	User   string                 `json:"user,omitempty"`
	Ollama string                 `json:"ollama"`
	Store  string                 `json:"storage,omitempty"`
}

func (a *app) newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the server (or local Ollama with --local)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				rep *statusReport
				err error
			)
			if a.local {
				rep, err = a.localStatus(cmd)
			} else {
				rep, err = a.remoteStatus(cmd)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			printStatus(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (a *app) remoteStatus(cmd *cobra.Command) (*statusReport, error) {
	c := a.client()
	health, err := c.Health(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", a.cfg.Client.ServerURL, err)
	}
	rep := &statusReport{
		Mode:   "remote",
		Server: a.cfg.Client.ServerURL,
		Health: health,
		Ollama: health.OllamaStatus,
	}
	if !health.AuthEnabled || a.cfg.Client.Token == "" {
		return rep, nil
	}

	me, err := c.Me(cmd.Context())
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		// Expired or revoked; report it rather than fail.
	case err != nil:
		return nil, err
	default:
		rep.User = me.User
	}
	return rep, nil
}

func (a *app) localStatus(cmd *cobra.Command) (*statusReport, error) {
	rep := &statusReport{
		Mode:   "local",
		Ollama: "ok",
		Store:  a.cfg.Storage.Backend,
	}
	if err := a.ollama().CheckRunning(cmd.Context()); err != nil {
		return nil, fmt.Errorf("ollama %s: %w", a.cfg.Ollama.URL, err)
	}
	return rep, nil
}

func printStatus(out io.Writer, rep *statusReport) {
	row := func(label, value string) {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-8s", label)), value)
	}
	state := func(s string) string {
		if s == "ok" {
			return successStyle.Render(s)
		}
		return warningStyle.Render(s)
	}

	if rep.Health != nil {
		row("Server", fmt.Sprintf("%s %s (v%s)", rep.Server, state(rep.Health.Status), rep.Health.Version))
	}
	row("Ollama", state(rep.Ollama))
	if rep.Store != "" {
		row("Storage", rep.Store)
	}
	if rep.Health == nil {
		return
	}
	switch {
	case !rep.Health.AuthEnabled:
		row("Auth", dimStyle.Render("disabled"))
	case rep.User != "":
		row("Auth", "logged in as "+rep.User)
	default:
		row("Auth", warningStyle.Render("not logged in"))
	}
}
