// Package app provides application lifecycle management for the gitmirrord daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/driftsync/gitmirrord/internal/config"
)

// App encapsulates all components needed to run the gitmirrord daemon.
// It provides lifecycle management and graceful shutdown capabilities.
type App struct {
	config     *config.Config
	components *Components
	httpServer *http.Server
	lock       *flock.Flock

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start runs the sync engine, the periodic ticker and the HTTP server.
// It blocks until one of them stops or encounters an error.
func (app *App) Start() error {
	g, gctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		return app.components.Engine.Start(gctx)
	})

	g.Go(func() error {
		return app.components.Ticker.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	// Stop the server when the engine or ticker dies, so the group drains
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.httpServer.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout.
// It stops the sync engine, shuts down the HTTP server and releases the
// telemetry providers and the instance lock.
func (app *App) Stop(timeout time.Duration) error {
	slog.Info("Shutting down...")

	// Stop the engine first so no cycle runs during teardown
	if err := app.components.Engine.Stop(); err != nil {
		slog.Error("Failed to stop sync engine", "error", err)
	}

	// Cancel the application context
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	// Graceful HTTP server shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if app.components.Telemetry != nil {
		if err := app.components.Telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}

	if app.lock != nil {
		if err := app.lock.Unlock(); err != nil {
			slog.Error("Failed to release instance lock", "error", err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("Shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *App) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *App) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetComponents returns the daemon components (useful for testing)
func (app *App) GetComponents() *Components {
	return app.components
}
