package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

// Publisher appends JSON payloads to streams.
type Publisher struct {
	client *redis.Client
	maxLen int64
	log    logger.Logger
}

// NewPublisher creates a publisher. maxLen > 0 trims streams approximately.
func NewPublisher(client *redis.Client, maxLen int64, log logger.Logger) *Publisher {
	return &Publisher{client: client, maxLen: maxLen, log: log}
}

// Publish marshals v and appends it to stream, returning the entry id.
func (p *Publisher) Publish(ctx context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", stream, err)
	}

	eventID := uuid.New().String()
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			FieldPayload:     string(payload),
			FieldEventID:     eventID,
			FieldPublishedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.log.Error("Failed to publish message",
			logger.String("stream", stream),
			logger.String("event_id", eventID),
			logger.Error(err),
		)
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}

	p.log.Debug("Published message",
		logger.String("stream", stream),
		logger.String("stream_id", id),
		logger.String("event_id", eventID),
	)
	return id, nil
}
