package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

const signalChannelBufferSize = 1

// RunUntilInterrupt blocks until a signal arrives, ctx is cancelled or the
// HTTP server fails, then shuts everything down.
func (a *App) RunUntilInterrupt(ctx context.Context) error {
	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case serverErr := <-a.serverErr:
		a.Deps.Logger.Error("Server error", logger.Error(serverErr))
		a.Shutdown(ctx)
		return fmt.Errorf("server error: %w", serverErr)
	case sig := <-sigChan:
		a.Deps.Logger.Info("Shutdown signal received", logger.String("signal", sig.String()))
	case <-ctx.Done():
		a.Deps.Logger.Info("Context cancelled, shutting down")
	}

	a.Shutdown(ctx)
	return nil
}

// Shutdown stops components in dependency order: consumers first so no new
// work starts, then the proxy maintainer (final stats flush), the server and
// finally the connections.
func (a *App) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Deps.Config.Server.ShutdownTimeout)
	defer cancel()

	a.stopComponents(shutdownCtx)

	if a.Server != nil {
		a.Deps.Logger.Info("Stopping HTTP server")
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Deps.Logger.Error("Failed to stop HTTP server", logger.Error(err))
		}
	}

	if a.Infra != nil {
		if err := a.Infra.Close(); err != nil {
			a.Deps.Logger.Error("Failed to close connections", logger.Error(err))
		}
	}

	a.Deps.Logger.Info("Price monitor stopped")
}

func (a *App) stopComponents(ctx context.Context) {
	if len(a.Consumers) > 0 {
		a.Deps.Logger.Info("Stopping consumers", logger.Int("count", len(a.Consumers)))
		for _, consumer := range a.Consumers {
			consumer.Stop()
		}
	}
	if a.Fetch != nil {
		a.Deps.Logger.Info("Stopping proxy maintainer")
		if err := a.Fetch.StopMaintainer(ctx); err != nil {
			a.Deps.Logger.Error("Failed to stop proxy maintainer", logger.Error(err))
		}
	}
}
