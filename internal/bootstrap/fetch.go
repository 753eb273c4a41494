package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/fetcher"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/proxypool"
)

// FetchComponents is the resilient fetch stack: breakers, proxy pool and
// the HTTP client that uses both.
type FetchComponents struct {
	Client     *fetcher.Client
	Breakers   *circuitbreaker.Registry
	Pool       *proxypool.Pool
	Maintainer *proxypool.Maintainer
}

// SetupFetcher builds the fetch stack. The proxy maintainer is created but
// not started; see StartMaintainer.
func SetupFetcher(deps *Deps, infra *Infra) *FetchComponents {
	cfg := deps.Config
	log := deps.Logger

	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		infra.Metrics.SetCircuitBreakerState(name, int(to), to == circuitbreaker.StateOpen)
		log.Warn("Circuit breaker state changed",
			logger.String("host", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	breakers := circuitbreaker.NewRegistry(breakerCfg)

	pool := proxypool.New(cfg.ProxyPool, log, infra.Metrics)
	client := fetcher.New(cfg.Fetcher, pool, breakers, log, infra.Metrics)

	var store proxypool.Store
	if infra.DB != nil {
		store = database.NewProxyRepository(infra.DB)
	}
	maintainer := proxypool.NewMaintainer(pool, store, client.BaseTransport(), log)

	return &FetchComponents{
		Client:     client,
		Breakers:   breakers,
		Pool:       pool,
		Maintainer: maintainer,
	}
}

// StartMaintainer loads the proxy pool and schedules probes. It is a no-op
// when the pool is disabled.
func (f *FetchComponents) StartMaintainer(ctx context.Context) error {
	if !f.Pool.Enabled() {
		return nil
	}
	if err := f.Maintainer.Start(ctx); err != nil {
		return fmt.Errorf("start proxy maintainer: %w", err)
	}
	return nil
}

// StopMaintainer halts probing and flushes proxy counters.
func (f *FetchComponents) StopMaintainer(ctx context.Context) error {
	if !f.Pool.Enabled() {
		return nil
	}
	return f.Maintainer.Stop(ctx)
}
