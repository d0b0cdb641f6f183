package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/repokit/internal/api/handlers"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/cloo-solutions/repokit/internal/provider"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/server"
	"github.com/cloo-solutions/repokit/internal/telemetry"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the repokit notes API on the specified port, backed by the configured provider",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides REPOKIT_PORT)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cfg, log, err := environment(ctx)
	if err != nil {
		return err
	}

	if cfg.HasSentry() {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: cfg.SentryTracesSampleRate,
		})
		if err != nil {
			log.Warn(ctx, "telemetry init failed, continuing without tracing", logger.Err(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	reg, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Error(ctx, "failed to close repositories", logger.Err(err))
		}
	}()

	notes := handlers.NewNotesHandler(repository.MustFor[domain.Note](reg), cfg.DefaultIsolation())
	router := server.NewRouter(server.RouterConfig{
		Logger:       log,
		MaxBodyBytes: cfg.MaxBodyBytes,
		NotesHandler: notes,
		Provider:     cfg.Provider,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", logger.String("port", cfg.Port), logger.String("provider", cfg.Provider))
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
	log.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info(ctx, "server exited")
	return nil
}
