package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/storm-alert-relay/internal/adapter/http"
	"github.com/couchcryptid/storm-alert-relay/internal/config"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
	"github.com/couchcryptid/storm-alert-relay/internal/processor"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alert webhook service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	loginAtStartup(ctx, a.bot, logger)

	dispatcher := processor.NewDispatcher(ctx, a.proc, metrics, logger)

	var opts []httpadapter.Option
	if !cfg.IsProduction() {
		opts = append(opts, httpadapter.WithTestAlerts())
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, a, dispatcher, metrics, logger, opts...)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-srvErr:
		logger.Error("http server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Error("in-flight alerts did not finish", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Error("close error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

type authenticator interface {
	Authenticate(ctx context.Context) error
}

// loginAtStartup attempts the first chat login. A failure is retried on the
// first alert; readiness stays red until then.
func loginAtStartup(ctx context.Context, bot authenticator, logger *slog.Logger) {
	if err := bot.Authenticate(ctx); err != nil {
		logger.Warn("initial chat login failed", "error", err)
	}
}
