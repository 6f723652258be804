// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/promptbuilder/internal/auth"
	"github.com/jeranaias/promptbuilder/internal/config"
)

func (a *app) newLoginCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the server and remember the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			if user == "" {
				var err error
				if user, err = readLine(cmd, in, "Username: "); err != nil {
					return err
				}
			}
			password, err := readSecret(cmd, in, "Password: ")
			if err != nil {
				return err
			}

			resp, err := a.client().Login(cmd.Context(), user, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.Token == "" {
				fmt.Fprintln(out, dimStyle.Render("Server has authentication disabled; nothing to save."))
				return nil
			}

			a.cfg.Client.Token = resp.Token
			if err := a.saveConfig(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s as %s (expires %s)\n", successStyle.Render("Logged in"), resp.User, resp.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "username")
	return cmd
}

func (a *app) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Client.Token == "" {
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("Not logged in."))
				return nil
			}
			// The local token is dropped even if the server is unreachable.
			remoteErr := a.client().Logout(cmd.Context())

			a.cfg.Client.Token = ""
			if err := a.saveConfig(); err != nil {
				return err
			}
			if remoteErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s server logout failed: %v\n", warningStyle.Render("[Warning]"), remoteErr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Logged out"))
			return nil
		},
	}
}

func (a *app) newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for the users file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd, bufio.NewReader(cmd.InOrStdin()), "Password: ")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// saveConfig writes the loaded config back to where it came from.
func (a *app) saveConfig() error {
	switch {
	case a.configPath == "":
		return config.Save(a.cfg)
	case strings.EqualFold(filepath.Ext(a.configPath), ".json"):
		return config.SaveJSON(a.cfg, a.configPath)
	default:
		return config.SaveTOML(a.cfg, a.configPath)
	}
}

// =============================================================================
// INPUT
// =============================================================================

func readLine(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo from a terminal, or a plain line otherwise.
func readSecret(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
