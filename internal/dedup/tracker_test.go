package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/dedup"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

func newTracker(t *testing.T) (*dedup.Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return dedup.NewTracker(client, time.Hour, logger.NewNop()), mr
}

func TestTracker_MarkAndSeen(t *testing.T) {
	t.Parallel()

	tracker, mr := newTracker(t)
	ctx := context.Background()

	assert.False(t, tracker.Seen(ctx, "raw", "1-0"))
	require.NoError(t, tracker.Mark(ctx, "raw", "1-0"))
	assert.True(t, tracker.Seen(ctx, "raw", "1-0"))
	assert.False(t, tracker.Seen(ctx, "other", "1-0"))

	mr.FastForward(2 * time.Hour)
	assert.False(t, tracker.Seen(ctx, "raw", "1-0"))
}

func TestTracker_RedisDownIsNotSeen(t *testing.T) {
	t.Parallel()

	tracker, mr := newTracker(t)
	mr.Close()

	assert.False(t, tracker.Seen(context.Background(), "raw", "3-0"))
	require.Error(t, tracker.Mark(context.Background(), "raw", "3-0"))
}

func TestTracker_NilIsNoOp(t *testing.T) {
	t.Parallel()

	var tracker *dedup.Tracker
	assert.False(t, tracker.Seen(context.Background(), "raw", "1-0"))
	assert.NoError(t, tracker.Mark(context.Background(), "raw", "1-0"))
}
