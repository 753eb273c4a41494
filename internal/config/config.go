package config

import (
	"time"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/dedup"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/fetcher"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/notify"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/proxypool"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/server"
)

// Alert dispatcher names.
const (
	DispatcherStream  = "stream"
	DispatcherWebhook = "webhook"
	DispatcherLog     = "log"
)

// Config is the complete price-monitor configuration.
type Config struct {
	Service   ServiceConfig         `yaml:"service"`
	Logging   logger.Config         `yaml:"logging"`
	Database  database.Config       `yaml:"database"`
	Redis     RedisConfig           `yaml:"redis"`
	Streams   queue.Streams         `yaml:"streams"`
	Consumer  queue.ConsumerConfig  `yaml:"consumer"`
	Worker    WorkerConfig          `yaml:"worker"`
	Fetcher   fetcher.Config        `yaml:"fetcher"`
	Breaker   circuitbreaker.Config `yaml:"breaker"`
	ProxyPool proxypool.Config      `yaml:"proxy_pool"`
	Processor ProcessorConfig       `yaml:"processor"`
	Alerts    AlertsConfig          `yaml:"alerts"`
	Webhook   notify.WebhookConfig  `yaml:"webhook"`
	Server    server.Config         `yaml:"server"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" yaml:"name"`
	Version     string `env:"SERVICE_VERSION" yaml:"version"`
	Environment string `env:"APP_ENV" yaml:"environment"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// WorkerConfig tunes the scrape worker.
type WorkerConfig struct {
	// Concurrency is the number of scrape commands processed at once.
	Concurrency   int  `env:"WORKER_CONCURRENCY"    yaml:"concurrency"`
	DisableRunLog bool `env:"WORKER_DISABLE_RUN_LOG" yaml:"disable_run_log"`
}

// ProcessorConfig tunes the price data processor.
type ProcessorConfig struct {
	DedupTTL time.Duration `env:"PROCESSOR_DEDUP_TTL" yaml:"dedup_ttl"`
}

// AlertsConfig selects how triggered alerts are delivered.
type AlertsConfig struct {
	Dispatchers []string `env:"ALERT_DISPATCHERS" yaml:"dispatchers"`
}

// SetDefaults fills every section's zero values.
func (c *Config) SetDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "price-monitor"
	}
	if c.Service.Version == "" {
		c.Service.Version = "dev"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "development"
	}
	c.Logging.SetDefaults()
	c.Database.SetDefaults()
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	c.Streams.SetDefaults()
	c.Consumer.SetDefaults()
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = c.Consumer.Concurrency
	}
	c.Fetcher = c.Fetcher.WithDefaults()
	c.Breaker.SetDefaults()
	c.ProxyPool.SetDefaults()
	if c.Processor.DedupTTL <= 0 {
		c.Processor.DedupTTL = dedup.DefaultTTL
	}
	if len(c.Alerts.Dispatchers) == 0 {
		c.Alerts.Dispatchers = []string{DispatcherStream}
	}
	c.Webhook.SetDefaults()
	c.Server.SetDefaults()
}

// IsDevelopment reports whether the service runs in development.
func (c *Config) IsDevelopment() bool {
	return c.Service.Environment == "development"
}

// Load reads configuration from path with defaults and env overrides
// applied, then validates it.
func Load(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path, (*Config).SetDefaults)
	if err != nil {
		return nil, err
	}
	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, validateErr
	}
	return cfg, nil
}
