// Package server exposes the operational HTTP endpoints: liveness,
// readiness, Prometheus metrics and pipeline status.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

// Server defaults.
const (
	DefaultPort            = 8095
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	readinessCheckTimeout  = 3 * time.Second
)

// Config holds server settings.
type Config struct {
	// Disabled turns the ops server off entirely.
	Disabled        bool          `env:"SERVER_DISABLED"         yaml:"disabled"`
	Port            int           `env:"SERVER_PORT"             yaml:"port"`
	Debug           bool          `env:"SERVER_DEBUG"            yaml:"debug"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT"    yaml:"write_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) error

// BreakerSource reports circuit breaker state.
type BreakerSource interface {
	Snapshot() []circuitbreaker.Stats
}

// ProxySource reports proxy pool state.
type ProxySource interface {
	Snapshot() []domain.ProxyEndpoint
}

// Options wires optional endpoints.
type Options struct {
	ServiceName string
	Version     string
	Gatherer    prometheus.Gatherer
	Checks      map[string]Check
	Breakers    BreakerSource
	Proxies     ProxySource
}

// Server is the ops HTTP server.
type Server struct {
	cfg    Config
	router *gin.Engine
	server *http.Server
	log    logger.Logger
}

// New builds the server and its routes.
func New(cfg Config, opts Options, log logger.Logger) *Server {
	cfg.SetDefaults()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recoveryMiddleware(log))
	router.Use(loggerMiddleware(log))

	h := &handlers{opts: opts, started: time.Now()}
	router.GET("/health", h.health)
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/ready", h.ready)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	status := router.Group("/status")
	status.GET("/breakers", h.breakers)
	status.GET("/proxies", h.proxies)

	return &Server{
		cfg:    cfg,
		router: router,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log: log,
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartAsync starts listening in a goroutine. The channel receives a
// listen error, if any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		s.log.Info("Starting ops HTTP server", logger.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("Ops HTTP server stopped")
	return nil
}
