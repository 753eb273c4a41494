package proxypool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

// Store persists proxy endpoints.
type Store interface {
	ListActive(ctx context.Context) ([]domain.ProxyEndpoint, error)
	SaveStats(ctx context.Context, deltas []domain.ProxyStatsDelta) error
}

// Maintainer runs periodic health probes and counter flushes for a pool.
type Maintainer struct {
	pool  *Pool
	store Store
	base  *http.Transport
	log   logger.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMaintainer creates a maintainer. store may be nil, in which case
// counters are kept in memory only.
func NewMaintainer(pool *Pool, store Store, base *http.Transport, log logger.Logger) *Maintainer {
	return &Maintainer{
		pool:  pool,
		store: store,
		base:  base,
		log:   log,
		cron:  cron.New(),
	}
}

// Refresh reloads pool membership and shared state from the store, picking
// up health changes flushed by other processes.
func (m *Maintainer) Refresh(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	endpoints, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list proxies: %w", err)
	}
	m.pool.Load(endpoints)
	return nil
}

// Start loads the pool and schedules probes and flushes.
func (m *Maintainer) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.Refresh(m.ctx); err != nil {
		return err
	}

	cfg := m.pool.cfg
	if _, err := m.cron.AddFunc(cfg.ProbeSchedule, func() { m.ProbeAll(m.ctx) }); err != nil {
		return fmt.Errorf("schedule proxy probe %q: %w", cfg.ProbeSchedule, err)
	}
	if m.store != nil {
		if _, err := m.cron.AddFunc(cfg.FlushSchedule, func() {
			if err := m.Flush(m.ctx); err != nil {
				m.log.Error("Failed to flush proxy stats", logger.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule proxy flush %q: %w", cfg.FlushSchedule, err)
		}
		if _, err := m.cron.AddFunc(cfg.RefreshSchedule, func() {
			if err := m.Refresh(m.ctx); err != nil {
				m.log.Error("Failed to refresh proxy pool", logger.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule proxy refresh %q: %w", cfg.RefreshSchedule, err)
		}
	}

	m.cron.Start()
	m.log.Info("Proxy maintainer started",
		logger.String("probe_schedule", cfg.ProbeSchedule),
		logger.String("flush_schedule", cfg.FlushSchedule),
		logger.String("refresh_schedule", cfg.RefreshSchedule),
	)
	return nil
}

// Stop halts scheduling, waits for running jobs and flushes once more.
func (m *Maintainer) Stop(ctx context.Context) error {
	<-m.cron.Stop().Done()
	if m.cancel != nil {
		m.cancel()
	}
	if m.store == nil {
		return nil
	}
	return m.Flush(ctx)
}

// Flush writes activity recorded since the last flush to the store. On
// failure the activity is kept for the next flush.
func (m *Maintainer) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	deltas := m.pool.TakeDeltas()
	if len(deltas) == 0 {
		return nil
	}
	if err := m.store.SaveStats(ctx, deltas); err != nil {
		m.pool.RestoreDeltas(deltas)
		return fmt.Errorf("save proxy stats: %w", err)
	}
	return nil
}

// ProbeAll probes every active endpoint with bounded concurrency and
// records the result as the endpoint's health.
func (m *Maintainer) ProbeAll(ctx context.Context) {
	cfg := m.pool.cfg
	sem := make(chan struct{}, cfg.ProbeConcurrency)
	var wg sync.WaitGroup

	for _, ep := range m.pool.Endpoints() {
		snap := ep.Snapshot()
		if !snap.Active || !Supported(snap.Protocol) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(ep *Endpoint) {
			defer wg.Done()
			defer func() { <-sem }()

			err := m.Probe(ctx, ep)
			if err != nil {
				m.log.Debug("Proxy probe failed",
					logger.String("proxy", ep.Key()),
					logger.Error(err),
				)
			}
			m.pool.SetHealth(ep, err == nil)
		}(ep)
	}

	wg.Wait()
}

var errProbeStatus = errors.New("unexpected probe status")

// Probe issues a request to the probe URL through ep.
func (m *Maintainer) Probe(ctx context.Context, ep *Endpoint) error {
	transport, err := ep.Transport(m.base)
	if err != nil {
		return err
	}

	cfg := m.pool.cfg
	ctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ProbeURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := (&http.Client{Transport: transport}).Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %d", errProbeStatus, resp.StatusCode)
	}
	return nil
}
