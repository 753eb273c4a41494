package proxypool_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/proxypool"
)

// memoryStore keeps proxy rows the way the proxies table does: flushed
// deltas are added to the shared row.
type memoryStore struct {
	mu        sync.Mutex
	endpoints []domain.ProxyEndpoint
	saved     [][]domain.ProxyStatsDelta
	err       error
}

func (s *memoryStore) ListActive(context.Context) ([]domain.ProxyEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProxyEndpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		if ep.Active {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *memoryStore) SaveStats(_ context.Context, deltas []domain.ProxyStatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, deltas)
	for _, d := range deltas {
		for i := range s.endpoints {
			if s.endpoints[i].ID == d.ID {
				d.ApplyTo(&s.endpoints[i])
			}
		}
	}
	return nil
}

func (s *memoryStore) row(id int64) domain.ProxyEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.endpoints {
		if ep.ID == id {
			return ep
		}
	}
	return domain.ProxyEndpoint{}
}

// startProxy runs an HTTP server that acts as a forward proxy answering
// every request itself with status.
func startProxy(t *testing.T, status int) domain.ProxyEndpoint {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return domain.ProxyEndpoint{
		ID:       int64(port),
		Host:     u.Hostname(),
		Port:     port,
		Protocol: domain.ProxyHTTP,
		Active:   true,
		Healthy:  false,
	}
}

func TestMaintainer_ProbeAllHealsAndMarksUnhealthy(t *testing.T) {
	t.Parallel()

	good := startProxy(t, http.StatusNoContent)
	bad := startProxy(t, http.StatusBadGateway)
	bad.Healthy = true

	store := &memoryStore{endpoints: []domain.ProxyEndpoint{good, bad}}
	pool := proxypool.New(proxypool.Config{Enabled: true, ProbeURL: "http://probe.invalid/ok"}, logger.NewNop(), nil)
	m := proxypool.NewMaintainer(pool, store, nil, logger.NewNop())

	require.NoError(t, m.Refresh(context.Background()))
	m.ProbeAll(context.Background())

	byID := map[int64]domain.ProxyEndpoint{}
	for _, s := range pool.Snapshot() {
		byID[s.ID] = s
	}
	assert.True(t, byID[good.ID].Healthy)
	assert.False(t, byID[bad.ID].Healthy)
	assert.NotNil(t, byID[bad.ID].LastCheckedAt)

	require.NoError(t, m.Flush(context.Background()))
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Len(t, store.saved[0], 2)
}

func TestMaintainer_StartAndStop(t *testing.T) {
	t.Parallel()

	store := &memoryStore{endpoints: []domain.ProxyEndpoint{endpoint(1, "10.0.0.1")}}
	pool := proxypool.New(proxypool.Config{Enabled: true}, logger.NewNop(), nil)
	m := proxypool.NewMaintainer(pool, store, nil, logger.NewNop())

	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, 1, pool.Len())
	pool.RecordOutcome(pool.Endpoints()[0], true, "")
	require.NoError(t, m.Stop(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.saved, 1, "stop flushes counters")
	assert.Equal(t, int64(1), store.endpoints[0].TotalRequests)
}

func TestMaintainer_WorkersShareStoredStats(t *testing.T) {
	t.Parallel()

	store := &memoryStore{endpoints: []domain.ProxyEndpoint{endpoint(1, "10.0.0.1")}}
	newWorker := func() (*proxypool.Pool, *proxypool.Maintainer) {
		pool := proxypool.New(proxypool.Config{Enabled: true}, logger.NewNop(), nil)
		m := proxypool.NewMaintainer(pool, store, nil, logger.NewNop())
		require.NoError(t, m.Refresh(context.Background()))
		return pool, m
	}
	poolA, workerA := newWorker()
	poolB, workerB := newWorker()

	for range 3 {
		poolA.RecordOutcome(poolA.Endpoints()[0], false, "NETWORK")
	}
	poolB.RecordOutcome(poolB.Endpoints()[0], true, "")

	require.NoError(t, workerA.Flush(context.Background()))
	require.NoError(t, workerB.Flush(context.Background()))

	row := store.row(1)
	assert.False(t, row.Healthy, "only a probe heals")
	assert.Equal(t, int64(4), row.TotalRequests)
	assert.Equal(t, int64(3), row.FailureCount)
	assert.Equal(t, int64(1), row.SuccessCount)

	require.NoError(t, workerB.Refresh(context.Background()))
	_, ok := poolB.Select("shop.example")
	assert.False(t, ok)
}

func TestMaintainer_FailedFlushIsRetried(t *testing.T) {
	t.Parallel()

	store := &memoryStore{endpoints: []domain.ProxyEndpoint{endpoint(1, "10.0.0.1")}, err: errors.New("db down")}
	pool := proxypool.New(proxypool.Config{Enabled: true}, logger.NewNop(), nil)
	m := proxypool.NewMaintainer(pool, store, nil, logger.NewNop())
	require.NoError(t, m.Refresh(context.Background()))

	pool.RecordOutcome(pool.Endpoints()[0], false, "TIMEOUT")
	require.Error(t, m.Flush(context.Background()))

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	require.NoError(t, m.Flush(context.Background()))

	row := store.row(1)
	assert.Equal(t, int64(1), row.TotalRequests)
	assert.Equal(t, "TIMEOUT", row.LastErrorKind)
}

func TestMaintainer_InvalidSchedule(t *testing.T) {
	t.Parallel()

	pool := proxypool.New(proxypool.Config{Enabled: true, ProbeSchedule: "not a schedule"}, logger.NewNop(), nil)
	m := proxypool.NewMaintainer(pool, nil, nil, logger.NewNop())

	require.Error(t, m.Start(context.Background()))
}
