package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const defaultShutdownTimeout = 30 * time.Second

// runServer serves until a signal arrives or the listener fails, then
// shuts down.
func runServer(app *application, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", observability.Error(err))
			exitCode = 1
		}
	}

	shutdown(app, logger)
	if exitCode != 0 {
		_ = logger.Sync()
		os.Exit(exitCode)
	}
}

// shutdown drains the server, then flushes and closes everything else.
func shutdown(app *application, logger observability.Logger) {
	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	// Audit sinks write to the database, so close the logger before it.
	app.close(logger)

	logger.Info("wikiclip stopped")
}
