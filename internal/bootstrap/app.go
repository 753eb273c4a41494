package bootstrap

// The bootstrap process follows these phases:
//   - Phase 1: Config & Logger - Load configuration and create logger
//   - Phase 2: Infrastructure - Connect to PostgreSQL and Redis, create metrics
//   - Phase 3: Fetch stack - Circuit breakers, proxy pool and HTTP client (worker only)
//   - Phase 4: Consumers - One consumer group per requested role
//   - Phase 5: Server - Health, readiness, metrics and status endpoints
//   - Phase 6: Run - Wait for interrupt signal or error

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/server"
)

// App is a running set of roles and the infrastructure they share.
type App struct {
	Deps      *Deps
	Infra     *Infra
	Fetch     *FetchComponents
	Consumers []*queue.Consumer
	Server    *server.Server

	serverErr <-chan error
}

// Start initializes and starts the requested roles, then blocks until the
// process is interrupted or a component fails.
func Start(ctx context.Context, configPath string, debug bool, roles ...Role) error {
	// Phase 1: Initialize config and logger
	deps, err := NewDeps(configPath, debug)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Logger.Sync() }()

	app, err := NewApp(ctx, deps, roles...)
	if err != nil {
		deps.Logger.Error("Failed to start", logger.Error(err))
		return err
	}

	// Phase 6: Run until interrupted
	return app.RunUntilInterrupt(ctx)
}

// NewApp runs phases 2 to 5 and leaves every component started.
func NewApp(ctx context.Context, deps *Deps, roles ...Role) (*App, error) {
	if len(roles) == 0 {
		return nil, errors.New("no roles requested")
	}
	app := &App{Deps: deps}

	// Phase 2: Setup infrastructure (PostgreSQL, Redis, metrics)
	infra, err := SetupInfra(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to setup infrastructure: %w", err)
	}
	app.Infra = infra

	// Phases 3 and 4: fetch stack and consumers for each role
	if setupErr := app.setupRoles(roles); setupErr != nil {
		_ = infra.Close()
		return nil, setupErr
	}

	if app.Fetch != nil {
		if startErr := app.Fetch.StartMaintainer(ctx); startErr != nil {
			_ = infra.Close()
			return nil, startErr
		}
	}
	for _, consumer := range app.Consumers {
		if startErr := consumer.Start(ctx); startErr != nil {
			app.stopComponents(ctx)
			return nil, fmt.Errorf("failed to start consumer: %w", startErr)
		}
	}

	// Phase 5: Setup and start the HTTP server
	if !deps.Config.Server.Disabled {
		app.Server = SetupServer(deps, infra, app.Fetch)
		app.serverErr = app.Server.StartAsync()
	}

	deps.Logger.Info("Price monitor started",
		logger.Any("roles", roles),
		logger.Int("consumers", len(app.Consumers)),
	)
	return app, nil
}

func (a *App) setupRoles(roles []Role) error {
	for _, role := range roles {
		switch role {
		case RoleWorker:
			// Phase 3: only the worker fetches pages
			a.Fetch = SetupFetcher(a.Deps, a.Infra)
			a.Consumers = append(a.Consumers, SetupWorker(a.Deps, a.Infra, a.Fetch))
		case RoleProcessor:
			a.Consumers = append(a.Consumers, SetupProcessor(a.Deps, a.Infra)...)
		case RoleAlerts:
			consumer, err := SetupAlerts(a.Deps, a.Infra)
			if err != nil {
				return fmt.Errorf("failed to setup alerts: %w", err)
			}
			a.Consumers = append(a.Consumers, consumer)
		default:
			return fmt.Errorf("unknown role %q", role)
		}
	}
	return nil
}

// SetupServer creates the ops server. fetch may be nil when the process
// does not run the worker role.
func SetupServer(deps *Deps, infra *Infra, fetch *FetchComponents) *server.Server {
	opts := server.Options{
		ServiceName: deps.Config.Service.Name,
		Version:     deps.Config.Service.Version,
		Gatherer:    infra.Registry,
		Checks:      infra.ReadinessChecks(),
	}
	if fetch != nil {
		opts.Breakers = fetch.Breakers
		opts.Proxies = fetch.Pool
	}
	return server.New(deps.Config.Server, opts, deps.Logger)
}
