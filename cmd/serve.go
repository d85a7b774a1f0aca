package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"signclips/internal/app"
	"signclips/internal/config"
	fileutil "signclips/internal/file"
	"signclips/internal/task"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	lockFile          = ".lock"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another signclips instance owns %s", cfg.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("failed to release data dir lock")
		}
	}()

	service, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := service.Close(); err != nil {
			log.Warn().Err(err).Msg("close task store")
		}
	}()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	service.Manager.SetBaseContext(baseCtx)

	srv := newHTTPServer(cfg.Port, app.Router(service.Manager), readHeaderTimeout)
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("data_dir", cfg.DataDir).Str("store", cfg.Store.Backend).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := waitForShutdownSignal(serveErr); err != nil {
		baseCancel()
		return fmt.Errorf("http server failed: %w", err)
	}
	gracefulShutdown(srv, baseCancel, service.Manager, shutdownTimeout)
	return nil
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// waitForShutdownSignal returns nil on SIGINT/SIGTERM, or the listener error.
func waitForShutdownSignal(serveErr <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
		return nil
	case err, ok := <-serveErr:
		if !ok {
			return nil
		}
		return err
	}
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, tm *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	// running tasks observe cancellation and record themselves as interrupted
	cancelBase()
	done := tm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
