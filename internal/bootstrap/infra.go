package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/metrics"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/server"
)

const (
	connectTimeout   = 10 * time.Second
	readinessTimeout = 2 * time.Second
)

// Infra holds the shared connections every role uses.
type Infra struct {
	DB        *sqlx.DB
	Redis     *redis.Client
	Publisher *queue.Publisher
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
}

// SetupInfra connects to PostgreSQL and Redis and creates the metrics
// registry.
func SetupInfra(ctx context.Context, deps *Deps) (*Infra, error) {
	cfg := deps.Config

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := database.NewPostgresConnection(connectCtx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	client, err := CreateRedisClient(connectCtx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps.Logger.Info("Infrastructure connected",
		logger.String("postgres", fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)),
		logger.String("redis", cfg.Redis.Address),
	)

	return &Infra{
		DB:        db,
		Redis:     client,
		Publisher: queue.NewPublisher(client, cfg.Streams.MaxLen, deps.Logger),
		Registry:  registry,
		Metrics:   metrics.New(registry),
	}, nil
}

// CreateRedisClient creates a client and verifies it with a ping.
func CreateRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Address, err)
	}
	return client, nil
}

// ReadinessChecks returns the dependency probes for the /ready endpoint.
func (i *Infra) ReadinessChecks() map[string]server.Check {
	return map[string]server.Check{
		"postgres": func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
			defer cancel()
			return i.DB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
			defer cancel()
			return i.Redis.Ping(ctx).Err()
		},
	}
}

// Close releases both connections.
func (i *Infra) Close() error {
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
