// Package bootstrap handles application initialization and lifecycle
// management for the price-monitor roles.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

// === Errors ===

var (
	errLoggerRequired = errors.New("logger is required")
	errConfigRequired = errors.New("config is required")
)

// === Types ===

// Deps holds the dependencies every command needs.
type Deps struct {
	Logger logger.Logger
	Config *config.Config
}

// NewDeps loads configuration from configPath and creates the logger.
// debug forces debug level logging.
func NewDeps(configPath string, debug bool) (*Deps, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
		cfg.Server.Debug = true
	}

	log, err := CreateLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With(
		logger.String("service", cfg.Service.Name),
		logger.String("version", cfg.Service.Version),
	)

	deps := &Deps{Logger: log, Config: cfg}
	if validateErr := deps.Validate(); validateErr != nil {
		return nil, fmt.Errorf("validate deps: %w", validateErr)
	}
	return deps, nil
}

// LoadConfig resolves the config path (CONFIG_PATH wins) and loads it.
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = config.GetConfigPath(config.DefaultPath)
	}
	return config.Load(configPath)
}

// CreateLogger creates the zap backed logger from configuration.
func CreateLogger(cfg *config.Config) (logger.Logger, error) {
	logCfg := cfg.Logging
	if cfg.IsDevelopment() {
		logCfg.Development = true
	}
	return logger.New(logCfg)
}

// Validate checks required fields.
func (d *Deps) Validate() error {
	if d.Logger == nil {
		return errLoggerRequired
	}
	if d.Config == nil {
		return errConfigRequired
	}
	return nil
}
