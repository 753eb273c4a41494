package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/metrics"
)

// Default consumer settings.
const (
	DefaultConcurrency       = 1
	DefaultBlock             = 5 * time.Second
	DefaultClaimIdle         = 2 * time.Minute
	DefaultClaimInterval     = 30 * time.Second
	DefaultProcessingTimeout = 3 * time.Minute
	DefaultMaxDeliveries     = 5
	claimBatchSize           = 10
	readErrorBackoff         = time.Second
)

// Message is one stream entry handed to a Handler.
type Message struct {
	Stream  string
	ID      string
	EventID string
	Payload []byte
}

// Decode unmarshals the payload. A decode failure wraps ErrMalformed.
func Decode[T any](msg Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return v, nil
}

// Handler processes one message. Returning nil acks it. Returning an error
// wrapping ErrMalformed acks and dead-letters it. Any other error leaves it
// pending for redelivery.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ConsumerConfig configures a consumer group reader.
type ConsumerConfig struct {
	Group string `env:"CONSUMER_GROUP" yaml:"group"`
	// Name prefixes this process's consumer names. Generated when empty.
	Name string `env:"CONSUMER_NAME" yaml:"name"`
	// Concurrency is the number of messages processed at once. Each worker
	// reads one message at a time.
	Concurrency       int           `env:"CONSUMER_CONCURRENCY"        yaml:"concurrency"`
	Block             time.Duration `env:"CONSUMER_BLOCK"              yaml:"block"`
	ClaimIdle         time.Duration `env:"CONSUMER_CLAIM_IDLE"         yaml:"claim_idle"`
	ClaimInterval     time.Duration `env:"CONSUMER_CLAIM_INTERVAL"     yaml:"claim_interval"`
	ProcessingTimeout time.Duration `env:"CONSUMER_PROCESSING_TIMEOUT" yaml:"processing_timeout"`
	// MaxDeliveries caps how often a failing message is handed to the
	// handler. A reclaimed message past the cap is dead-lettered and acked.
	MaxDeliveries int64 `env:"CONSUMER_MAX_DELIVERIES" yaml:"max_deliveries"`
}

// SetDefaults fills zero values.
func (c *ConsumerConfig) SetDefaults() {
	if c.Group == "" {
		c.Group = "price-monitor"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Block <= 0 {
		c.Block = DefaultBlock
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = DefaultClaimIdle
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = DefaultClaimInterval
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = DefaultProcessingTimeout
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = DefaultMaxDeliveries
	}
}

// Consumer reads one stream through a consumer group.
type Consumer struct {
	client  *redis.Client
	stream  string
	cfg     ConsumerConfig
	handler Handler
	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer for stream.
func NewConsumer(
	client *redis.Client,
	stream string,
	cfg ConsumerConfig,
	handler Handler,
	log logger.Logger,
	m *metrics.Metrics,
) *Consumer {
	cfg.SetDefaults()
	if cfg.Name == "" {
		cfg.Name = generateConsumerName()
	}
	return &Consumer{
		client:  client,
		stream:  stream,
		cfg:     cfg,
		handler: handler,
		log:     log.With(logger.String("stream", stream), logger.String("group", cfg.Group)),
		metrics: m,
		tracer:  otel.Tracer("price-monitor/queue"),
	}
}

func generateConsumerName() string {
	const uuidPrefixLength = 8
	return fmt.Sprintf("price-monitor-%s", uuid.New().String()[:uuidPrefixLength])
}

// Start ensures the consumer group exists and launches the workers.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.log.Info("Starting stream consumer",
		logger.String("consumer", c.cfg.Name),
		logger.Int("concurrency", c.cfg.Concurrency),
	)

	for i := range c.cfg.Concurrency {
		name := fmt.Sprintf("%s-%d", c.cfg.Name, i)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consumeLoop(runCtx, name)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.claimAbandonedLoop(runCtx)
	}()

	return nil
}

// Stop stops reading new messages and waits for in-flight messages to
// finish processing.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	c.wg.Wait()
	c.log.Info("Stream consumer stopped", logger.String("consumer", c.cfg.Name))
}

func (c *Consumer) consumeLoop(ctx context.Context, name string) {
	for ctx.Err() == nil {
		c.readAndProcess(ctx, name)
	}
}

func (c *Consumer) readAndProcess(ctx context.Context, name string) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: name,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		c.log.Error("Failed to read from stream", logger.Error(err))
		sleep(ctx, readErrorBackoff)
		return
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			c.processMessage(ctx, msg)
		}
	}
}

// processMessage runs the handler on a context detached from shutdown so a
// started message always finishes or hits its own timeout.
func (c *Consumer) processMessage(parent context.Context, raw redis.XMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.ProcessingTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "queue.process",
		trace.WithAttributes(
			attribute.String("messaging.destination.name", c.stream),
			attribute.String("messaging.message.id", raw.ID),
		),
	)
	defer span.End()

	msg, err := toMessage(c.stream, raw)
	if err == nil {
		ctx = logger.WithContext(ctx, c.log.With(
			logger.String("stream_id", raw.ID),
			logger.String("event_id", msg.EventID),
		))
		err = c.safeHandle(ctx, msg)
	}

	switch {
	case err == nil:
		c.ack(ctx, raw.ID)
		c.metrics.RecordMessage(c.stream, "acked")
	case errors.Is(err, ErrMalformed):
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed")
		c.log.Error("Rejecting malformed message",
			logger.String("stream_id", raw.ID),
			logger.Error(err),
		)
		c.deadLetter(ctx, raw, err)
		c.ack(ctx, raw.ID)
		c.metrics.RecordMessage(c.stream, "dead_letter")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		c.log.Error("Failed to handle message, leaving for redelivery",
			logger.String("stream_id", raw.ID),
			logger.Error(err),
		)
		c.metrics.RecordMessage(c.stream, "retry")
	}
}

var errHandlerPanic = errors.New("handler panicked")

func (c *Consumer) safeHandle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return c.handler.Handle(ctx, msg)
}

func toMessage(stream string, raw redis.XMessage) (Message, error) {
	payload, ok := raw.Values[FieldPayload].(string)
	if !ok || payload == "" {
		return Message{}, fmt.Errorf("%w: missing %q field", ErrMalformed, FieldPayload)
	}
	eventID, _ := raw.Values[FieldEventID].(string)
	return Message{
		Stream:  stream,
		ID:      raw.ID,
		EventID: eventID,
		Payload: []byte(payload),
	}, nil
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.cfg.Group, id).Err(); err != nil {
		c.log.Error("Failed to ACK message",
			logger.String("stream_id", id),
			logger.Error(err),
		)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, raw redis.XMessage, cause error) {
	values := make(map[string]any, len(raw.Values)+2)
	for k, v := range raw.Values {
		values[k] = v
	}
	values[FieldError] = cause.Error()
	values[FieldOriginalID] = raw.ID

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(c.stream),
		Values: values,
	}).Err(); err != nil {
		c.log.Error("Failed to dead-letter message",
			logger.String("stream_id", raw.ID),
			logger.Error(err),
		)
	}
}

func (c *Consumer) claimAbandonedLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ClaimAbandoned(ctx)
		}
	}
}

// ClaimAbandoned takes over messages left pending longer than ClaimIdle by
// crashed or failed consumers and processes them. Messages already
// delivered more than MaxDeliveries times are dead-lettered instead.
func (c *Consumer) ClaimAbandoned(ctx context.Context) int {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name + "-claim",
		MinIdle:  c.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    claimBatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error("Failed to auto-claim messages", logger.Error(err))
		}
		return 0
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if deliveries := c.deliveryCount(ctx, msg.ID); deliveries > c.cfg.MaxDeliveries {
			c.rejectRedelivered(ctx, msg, deliveries)
			continue
		}
		c.log.Info("Claimed abandoned message", logger.String("stream_id", msg.ID))
		c.processMessage(ctx, msg)
	}
	return len(messages)
}

// deliveryCount returns how often id has been delivered, counting the
// claim that just happened. It returns 0 when the count is unavailable so
// the message is still processed.
func (c *Consumer) deliveryCount(ctx context.Context, id string) int64 {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		if err != nil && ctx.Err() == nil {
			c.log.Warn("Failed to read delivery count",
				logger.String("stream_id", id),
				logger.Error(err),
			)
		}
		return 0
	}
	return pending[0].RetryCount
}

func (c *Consumer) rejectRedelivered(ctx context.Context, raw redis.XMessage, deliveries int64) {
	err := fmt.Errorf("%w: delivered %d times", ErrTooManyDeliveries, deliveries)
	c.log.Error("Dead-lettering message that keeps failing",
		logger.String("stream_id", raw.ID),
		logger.Int64("deliveries", deliveries),
	)
	c.deadLetter(ctx, raw, err)
	c.ack(ctx, raw.ID)
	c.metrics.RecordMessage(c.stream, "dead_letter")
}

func (c *Consumer) ensureConsumerGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.cfg.Group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
