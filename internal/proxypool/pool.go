// Package proxypool tracks proxy endpoints and their health, and picks one
// per outbound request.
package proxypool

import (
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/metrics"
)

// Pool selects proxies and records their outcomes. The pool-level lock
// guards membership only; counters are updated under each endpoint's lock.
type Pool struct {
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	endpoints []*Endpoint
	byID      map[int64]*Endpoint
}

// New creates an empty pool.
func New(cfg Config, log logger.Logger, m *metrics.Metrics) *Pool {
	cfg.SetDefaults()
	return &Pool{
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
		byID:    make(map[int64]*Endpoint),
	}
}

// Enabled reports whether the pool participates in fetches.
func (p *Pool) Enabled() bool {
	return p.cfg.Enabled
}

// Load replaces the pool membership with stored state. Stored rows carry
// what every process has flushed, so an endpoint already present takes the
// row's flags, overrides and counters with its own unflushed activity
// applied on top.
func (p *Pool) Load(endpoints []domain.ProxyEndpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]*Endpoint, 0, len(endpoints))
	byID := make(map[int64]*Endpoint, len(endpoints))
	for _, data := range endpoints {
		ep := p.reload(data)
		next = append(next, ep)
		byID[data.ID] = ep

		snap := ep.Snapshot()
		p.metrics.SetProxyHealthy(snap.Key(), snap.Healthy)
	}
	p.endpoints = next
	p.byID = byID

	p.log.Info("Proxy pool loaded", logger.Int("endpoints", len(next)))
}

func (p *Pool) reload(data domain.ProxyEndpoint) *Endpoint {
	old, ok := p.byID[data.ID]
	if !ok || data.ID == 0 {
		return newEndpoint(data)
	}

	old.mu.Lock()
	defer old.mu.Unlock()
	old.pending.ApplyTo(&data)
	if !sameDialTarget(&old.data, &data) {
		ep := newEndpoint(data)
		ep.pending = old.pending
		return ep
	}
	old.data = data
	return old
}

// Len returns the number of pooled endpoints.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// Select returns the best usable endpoint: active, healthy, dialable, with
// the highest success rate and, on ties, the least recently used. It
// returns false when the pool is disabled or nothing is usable.
func (p *Pool) Select(targetHost string) (*Endpoint, bool) {
	if !p.cfg.Enabled {
		return nil, false
	}

	p.mu.RLock()
	candidates := p.endpoints
	p.mu.RUnlock()

	var (
		best     *Endpoint
		bestRate float64
		bestUsed time.Time
	)
	for _, ep := range candidates {
		ep.mu.Lock()
		usable := ep.data.Active && ep.data.Healthy && Supported(ep.data.Protocol)
		rate := ep.data.SuccessRate()
		var used time.Time
		if ep.data.LastUsedAt != nil {
			used = *ep.data.LastUsedAt
		}
		ep.mu.Unlock()

		if !usable {
			continue
		}
		if best == nil || rate > bestRate || (rate == bestRate && used.Before(bestUsed)) {
			best, bestRate, bestUsed = ep, rate, used
		}
	}

	if best == nil {
		p.log.Debug("No usable proxy", logger.String("target_host", targetHost))
		return nil, false
	}

	now := p.now()
	best.mu.Lock()
	best.data.LastUsedAt = &now
	best.pending.LastUsedAt = &now
	best.mu.Unlock()

	return best, true
}

// RecordOutcome updates the endpoint's counters after an attempt.
// FailureThreshold consecutive failures mark it unhealthy; a success resets
// the consecutive count but never restores health.
func (p *Pool) RecordOutcome(ep *Endpoint, success bool, errorKind string) {
	if ep == nil {
		return
	}

	ep.mu.Lock()
	ep.data.TotalRequests++
	ep.pending.Requests++
	becameUnhealthy := false
	if success {
		ep.data.SuccessCount++
		ep.data.ConsecutiveFails = 0
		ep.pending.Successes++
		ep.pending.ConsecutiveFails = 0
		ep.pending.ResetConsecutive = true
	} else {
		ep.data.FailureCount++
		ep.data.ConsecutiveFails++
		ep.data.LastErrorKind = errorKind
		ep.pending.Failures++
		ep.pending.ConsecutiveFails++
		ep.pending.LastErrorKind = errorKind
		if ep.data.Healthy && ep.data.ConsecutiveFails >= p.cfg.FailureThreshold {
			ep.data.Healthy = false
			unhealthy := false
			ep.pending.Healthy = &unhealthy
			becameUnhealthy = true
		}
	}
	key := ep.data.Key()
	healthy := ep.data.Healthy
	consecutive := ep.data.ConsecutiveFails
	ep.mu.Unlock()

	p.metrics.RecordProxyResult(key, success, healthy)
	if becameUnhealthy {
		p.log.Warn("Proxy marked unhealthy",
			logger.String("proxy", key),
			logger.Int("consecutive_failures", consecutive),
			logger.String("error_kind", errorKind),
		)
	}
}

// SetHealth records a health probe result. A passing probe is the only way
// an unhealthy endpoint becomes selectable again.
func (p *Pool) SetHealth(ep *Endpoint, healthy bool) {
	now := p.now()

	ep.mu.Lock()
	was := ep.data.Healthy
	ep.data.Healthy = healthy
	ep.data.LastCheckedAt = &now
	ep.pending.Healthy = &healthy
	ep.pending.LastCheckedAt = &now
	if healthy {
		ep.data.ConsecutiveFails = 0
		ep.pending.ConsecutiveFails = 0
		ep.pending.ResetConsecutive = true
	}
	key := ep.data.Key()
	ep.mu.Unlock()

	p.metrics.SetProxyHealthy(key, healthy)
	if was != healthy {
		p.log.Info("Proxy health changed",
			logger.String("proxy", key),
			logger.Bool("healthy", healthy),
		)
	}
}

// Endpoints returns the pooled endpoints.
func (p *Pool) Endpoints() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Snapshot returns copies of every endpoint's state.
func (p *Pool) Snapshot() []domain.ProxyEndpoint {
	eps := p.Endpoints()
	out := make([]domain.ProxyEndpoint, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.Snapshot())
	}
	return out
}

// TakeDeltas returns and clears the unflushed activity of every endpoint.
func (p *Pool) TakeDeltas() []domain.ProxyStatsDelta {
	eps := p.Endpoints()
	out := make([]domain.ProxyStatsDelta, 0, len(eps))
	for _, ep := range eps {
		ep.mu.Lock()
		if !ep.pending.Empty() {
			d := ep.pending
			d.ID = ep.data.ID
			out = append(out, d)
		}
		ep.pending = domain.ProxyStatsDelta{}
		ep.mu.Unlock()
	}
	return out
}

// RestoreDeltas puts back deltas a failed flush could not write, ahead of
// any activity recorded since.
func (p *Pool) RestoreDeltas(deltas []domain.ProxyStatsDelta) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, d := range deltas {
		ep, ok := p.byID[d.ID]
		if !ok {
			continue
		}
		ep.mu.Lock()
		ep.pending = d.Then(ep.pending)
		ep.mu.Unlock()
	}
}
