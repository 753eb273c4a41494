package circuitbreaker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/circuitbreaker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(t *testing.T, threshold int, timeout time.Duration) (*circuitbreaker.Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := circuitbreaker.New("shop.example", circuitbreaker.Config{
		FailureThreshold: threshold,
		Timeout:          timeout,
	})
	b.SetClock(clock.Now)
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newBreaker(t, 3, time.Minute)

	for range 2 {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, circuitbreaker.StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(false)
	assert.Equal(t, circuitbreaker.StateOpen, b.State())

	err := b.Allow()
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newBreaker(t, 2, time.Minute)

	require.NoError(t, b.Allow())
	b.Record(false)
	require.NoError(t, b.Allow())
	b.Record(true)
	require.NoError(t, b.Allow())
	b.Record(false)

	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	t.Parallel()

	b, clock := newBreaker(t, 1, 10*time.Second)

	require.NoError(t, b.Allow())
	b.Record(false)
	require.ErrorIs(t, b.Allow(), circuitbreaker.ErrCircuitOpen)

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, circuitbreaker.StateHalfOpen, b.State())
	require.ErrorIs(t, b.Allow(), circuitbreaker.ErrCircuitOpen, "second caller must wait for the probe")

	b.Record(true)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b, clock := newBreaker(t, 1, time.Second)

	require.NoError(t, b.Allow())
	b.Record(false)
	clock.Advance(time.Second)

	require.NoError(t, b.Allow())
	b.Record(false)
	assert.Equal(t, circuitbreaker.StateOpen, b.State())
}

func TestBreaker_StateCallback(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		transitions []string
	)
	b := circuitbreaker.New("api.example", circuitbreaker.Config{
		FailureThreshold: 1,
		Timeout:          time.Hour,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	require.NoError(t, b.Allow())
	b.Record(false)
	require.ErrorIs(t, b.Allow(), circuitbreaker.ErrCircuitOpen)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"api.example:closed->open"}, transitions)
}

func TestRegistry_PerKeyIsolation(t *testing.T) {
	t.Parallel()

	r := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})

	a := r.Get("a.example")
	require.NoError(t, a.Allow())
	a.Record(false)

	assert.Same(t, a, r.Get("a.example"))
	require.ErrorIs(t, r.Get("a.example").Allow(), circuitbreaker.ErrCircuitOpen)
	require.NoError(t, r.Get("b.example").Allow())

	stats := r.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, "a.example", stats[0].Name)
	assert.Equal(t, circuitbreaker.StateOpen, stats[0].State)
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	t.Parallel()

	r := circuitbreaker.NewRegistry(circuitbreaker.Config{})
	var wg sync.WaitGroup
	got := make([]*circuitbreaker.Breaker, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("shared.example")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
}

func TestBreaker_ReleaseLeavesCountsAndFreesTrialSlot(t *testing.T) {
	t.Parallel()

	b, clock := newBreaker(t, 2, time.Minute)

	require.NoError(t, b.Allow())
	b.Record(false)
	require.NoError(t, b.Allow())
	b.Release()
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
	assert.Equal(t, 1, b.GetStats().FailureCount)

	require.NoError(t, b.Allow())
	b.Record(false)
	require.Equal(t, circuitbreaker.StateOpen, b.State())

	clock.Advance(2 * time.Minute)
	require.NoError(t, b.Allow())
	assert.Equal(t, circuitbreaker.StateHalfOpen, b.State())
	b.Release()

	require.NoError(t, b.Allow(), "release frees the half-open slot")
	b.Record(true)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}
