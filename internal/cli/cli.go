// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/client"
	"github.com/jeranaias/promptbuilder/internal/config"
	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/session"
	"github.com/jeranaias/promptbuilder/internal/storage"
	"github.com/jeranaias/promptbuilder/internal/tokens"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// app carries the state shared by every command.
type app struct {
	configPath string
	serverURL  string
	local      bool
	noColor    bool

	cfg     *config.Config
	profile termenv.Profile
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "promptbuilder",
		Short:         "Build, edit and run Ollama prompts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "promptbuilder server URL")
	root.PersistentFlags().BoolVar(&a.local, "local", false, "use local storage and Ollama instead of a server")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.newServeCmd(),
		a.newTUICmd(),
		a.newRunCmd(),
		a.newReplCmd(),
		a.newListCmd(),
		a.newCreateCmd(),
		a.newShowCmd(),
		a.newExportCmd(),
		a.newDeleteCmd(),
		a.newModelsCmd(),
		a.newTokensCmd(),
		a.newLoginCmd(),
		a.newLogoutCmd(),
		a.newHashPasswordCmd(),
		a.newStatusCmd(),
		a.newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// init loads configuration once flags are parsed.
func (a *app) init() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.Client.ServerURL = a.serverURL
	}
	if a.noColor {
		cfg.UI.NoColor = true
	}
	a.cfg = cfg
	a.profile = applyColorProfile(cfg.UI.NoColor)
	return nil
}

// =============================================================================
// BACKENDS
// =============================================================================

// catalog is the conversation store seen by commands; both the HTTP
// client and local storage satisfy it.
type catalog interface {
	List(ctx context.Context) ([]storage.Summary, error)
	Create(ctx context.Context, name, model string) (string, *conversation.Conversation, error)
	Load(ctx context.Context, key string) (*conversation.Conversation, error)
	Save(ctx context.Context, key string, conv *conversation.Conversation) error
	Delete(ctx context.Context, key string) error
}

// backend bundles the collaborators a session needs.
type backend struct {
	catalog   catalog
	runner    session.Runner
	estimator tokens.Estimator
	models    func(ctx context.Context) ([]ollama.ModelInfo, error)
	close     func() error
}

// backend connects to the server, or to local storage with --local.
func (a *app) backend() (*backend, error) {
	if !a.local {
		c := a.client()
		return &backend{
			catalog:   c,
			runner:    c,
			estimator: c,
			models:    c.Models,
			close:     func() error { return nil },
		}, nil
	}

	store, err := storage.Open(storage.Config{
		Backend:    a.cfg.Storage.Backend,
		Dir:        a.cfg.Storage.Dir,
		SQLitePath: a.cfg.Storage.SQLitePath,
	})
	if err != nil {
		return nil, err
	}
	oc := a.ollama()
	b := &backend{
		catalog: store,
		runner:  session.DirectRunner(oc),
		models:  oc.ListModels,
		close:   store.Close,
	}
	if est, err := tokens.NewTiktoken(a.cfg.Tokens.DefaultEncoding); err == nil {
		b.estimator = est
	}
	return b, nil
}

func (a *app) client() *client.Client {
	return client.New(a.cfg.Client.ServerURL).WithToken(a.cfg.Client.Token)
}

func (a *app) ollama() *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      a.cfg.Ollama.URL,
		Timeout:      a.cfg.OllamaTimeout(),
		DefaultModel: a.cfg.Ollama.DefaultModel,
	})
}

// openSession opens key on b with the configured debounce windows.
func (a *app) openSession(ctx context.Context, b *backend, key string, listener func(session.Event), logger *log.Logger) (*session.Session, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return session.Open(ctx, key, b.catalog, b.runner, b.estimator, session.Options{
		SaveDelay:    a.cfg.SaveDelay(),
		TokenDelay:   a.cfg.TokenDelay(),
		TokenTimeout: a.cfg.OllamaTimeout(),
		Listener:     listener,
		Logger:       logger,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "promptbuilder %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
