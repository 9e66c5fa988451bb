//go:build !test

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/loft/internal/account"
	"github.com/jbweber/homelab/loft/internal/api"
	"github.com/jbweber/homelab/loft/internal/config"
	"github.com/jbweber/homelab/loft/internal/kv"
	"github.com/jbweber/homelab/loft/internal/lifecycle"
	"github.com/jbweber/homelab/loft/internal/mail"
	"github.com/jbweber/homelab/loft/internal/provision"
	"github.com/jbweber/homelab/loft/internal/repository"
	"github.com/jbweber/homelab/loft/internal/token"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.Logger
	ctx = logger.WithContext(ctx)

	plans, err := config.LoadPlans(cfg.PlansFile)
	if err != nil {
		return err
	}

	ds, err := cfg.InitializeDatabase(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	pending, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pending.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close key-value store")
		}
	}()

	sessions, err := repository.NewSessionRepository(ds)
	if err != nil {
		return err
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close session statements")
		}
	}()
	scripts := repository.NewScriptRepository(ds)

	servers, err := lifecycle.NewService(
		repository.NewServerRepository(ds),
		scripts,
		provision.NewClient(cfg.ControllerEndpoint, cfg.ControllerTimeout),
		plans,
		cfg.Network(),
	)
	if err != nil {
		return err
	}
	accounts := account.NewService(
		repository.NewUserRepository(ds),
		sessions,
		pending,
		mail.NewLogMailer(logger),
		cfg.RegistrationTTL,
	)

	router := api.NewAPI(servers, accounts, scripts, token.NewService(sessions)).Router(logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("database", cfg.DatabaseDriver).
			Int("plans", len(plans)).
			Msg("starting loft")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// openKV returns a Redis store when REDIS_URL is set and an in-process store otherwise.
func openKV(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, pending registrations are kept in memory")
		return kv.NewMemoryStore(), nil
	}
	return kv.NewRedisStore(ctx, cfg.RedisURL)
}
