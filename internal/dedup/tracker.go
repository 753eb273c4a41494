// Package dedup remembers which stream messages were fully processed so a
// redelivery can be skipped. It is best effort: Redis errors are logged and
// treated as "not seen".
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

// DefaultTTL bounds how long a processed marker is kept.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "pricemonitor:processed"

// Tracker records processed message ids in Redis.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewTracker creates a tracker. A non-positive ttl uses DefaultTTL.
func NewTracker(client *redis.Client, ttl time.Duration, log logger.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (t *Tracker) key(scope, id string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, scope, id)
}

// Seen reports whether id was marked processed within scope.
func (t *Tracker) Seen(ctx context.Context, scope, id string) bool {
	if t == nil || id == "" {
		return false
	}

	key := t.key(scope, id)
	exists, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		t.logger.Error("Redis error checking processed marker",
			logger.String("redis_key", key),
			logger.Error(err),
		)
		return false
	}

	return exists == 1
}

// Mark records id as processed within scope.
func (t *Tracker) Mark(ctx context.Context, scope, id string) error {
	if t == nil || id == "" {
		return nil
	}

	key := t.key(scope, id)
	if err := t.client.Set(ctx, key, "1", t.ttl).Err(); err != nil {
		t.logger.Error("Redis error setting processed marker",
			logger.String("redis_key", key),
			logger.Duration("ttl", t.ttl),
			logger.Error(err),
		)
		return fmt.Errorf("mark processed: %w", err)
	}

	return nil
}
