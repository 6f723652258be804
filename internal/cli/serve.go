// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/auth"
	"github.com/jeranaias/promptbuilder/internal/server"
	"github.com/jeranaias/promptbuilder/internal/storage"
	"github.com/jeranaias/promptbuilder/internal/tokens"
)

const shutdownTimeout = 10 * time.Second

func (a *app) newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay and conversation API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger := log.New(cmd.ErrOrStderr(), "", log.LstdFlags)

			store, err := storage.Open(storage.Config{
				Backend:    cfg.Storage.Backend,
				Dir:        cfg.Storage.Dir,
				SQLitePath: cfg.Storage.SQLitePath,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			authn, err := auth.New(auth.Config{
				Enabled:   cfg.Auth.Enabled,
				UsersFile: cfg.Auth.UsersFile,
				TTL:       cfg.SessionTTL(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := authn.Watch(ctx, logger); err != nil {
				logger.Printf("AUTH_WATCH_FAILED | file=%s err=%v", cfg.Auth.UsersFile, err)
			}

			srv := server.NewServer(cfg.Server.Listen, store, a.ollama()).
				WithAuth(authn).
				WithLogger(logger).
				WithMaxBodySize(cfg.Server.MaxBodyBytes)

			if est, err := tokens.NewTiktoken(cfg.Tokens.DefaultEncoding); err != nil {
				logger.Printf("TOKENS_DISABLED | err=%v", err)
			} else {
				srv.WithEstimator(est)
			}

			cors := server.DefaultCORSConfig()
			cors.AllowedOrigins = cfg.Server.CORSOrigins
			srv.WithCORS(cors)

			if cfg.Server.RateLimit > 0 {
				srv.WithRateLimiter(server.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	return cmd
}
