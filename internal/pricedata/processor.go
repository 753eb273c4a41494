// Package pricedata persists scraped prices and announces recorded price
// points to the alerting stage.
package pricedata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/metrics"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
)

// ErrInvalidEvent marks a raw price event missing a required field.
var ErrInvalidEvent = errors.New("invalid raw price event")

// HistoryStore appends price history.
type HistoryStore interface {
	AppendWithMapping(ctx context.Context, entry *domain.PriceHistoryEntry) error
}

// Publisher appends an event to a stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, v any) (string, error)
}

// Deduper remembers fully processed messages.
type Deduper interface {
	Seen(ctx context.Context, scope, id string) bool
	Mark(ctx context.Context, scope, id string) error
}

// Processor consumes RawPriceDataEvent messages.
type Processor struct {
	history   HistoryStore
	publisher Publisher
	dedup     Deduper
	streams   queue.Streams
	log       logger.Logger
	metrics   *metrics.Metrics
}

// NewProcessor creates a processor. dedup may be nil.
func NewProcessor(
	history HistoryStore,
	pub Publisher,
	dedup Deduper,
	streams queue.Streams,
	log logger.Logger,
	m *metrics.Metrics,
) *Processor {
	streams.SetDefaults()
	return &Processor{
		history:   history,
		publisher: pub,
		dedup:     dedup,
		streams:   streams,
		log:       log,
		metrics:   m,
	}
}

// Handle implements queue.Handler.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	if p.dedup != nil && p.dedup.Seen(ctx, msg.Stream, msg.ID) {
		p.log.Info("Skipping already processed price event",
			logger.String("stream_id", msg.ID),
		)
		p.metrics.RecordDuplicateSkipped()
		return nil
	}

	ev, err := queue.Decode[domain.RawPriceDataEvent](msg)
	if err != nil {
		return err
	}
	if validateErr := validate(&ev); validateErr != nil {
		return fmt.Errorf("%w: %w", queue.ErrMalformed, validateErr)
	}

	if _, processErr := p.Process(ctx, &ev); processErr != nil {
		return processErr
	}

	if p.dedup != nil {
		if markErr := p.dedup.Mark(ctx, msg.Stream, msg.ID); markErr != nil {
			p.log.Warn("Failed to mark price event processed",
				logger.String("stream_id", msg.ID),
				logger.Error(markErr),
			)
		}
	}
	return nil
}

func validate(ev *domain.RawPriceDataEvent) error {
	switch {
	case ev.MappingID == "":
		return fmt.Errorf("%w: mappingId is required", ErrInvalidEvent)
	case ev.CanonicalProductID == "":
		return fmt.Errorf("%w: canonicalProductId is required", ErrInvalidEvent)
	case ev.SellerName == "":
		return fmt.Errorf("%w: sellerName is required", ErrInvalidEvent)
	case ev.ScrapedPrice.IsNegative():
		return fmt.Errorf("%w: negative price %s", ErrInvalidEvent, ev.ScrapedPrice)
	case !domain.PriceInRange(ev.ScrapedPrice):
		return fmt.Errorf("%w: price %s out of range", ErrInvalidEvent, ev.ScrapedPrice)
	default:
		return nil
	}
}

// Process stores one price observation and publishes the recorded price
// point. Nothing is published when the insert fails.
func (p *Processor) Process(ctx context.Context, ev *domain.RawPriceDataEvent) (*domain.PricePointRecordedEvent, error) {
	stock := domain.BoundStockStatus(ev.ScrapedStockStatus)
	if stock == "" {
		stock = domain.StockUnknown
	}

	entry := &domain.PriceHistoryEntry{
		RecordedAt:         ev.ScrapedAt,
		CanonicalProductID: ev.CanonicalProductID,
		MappingID:          ev.MappingID,
		SellerName:         ev.SellerName,
		Price:              ev.ScrapedPrice,
		StockStatus:        stock,
		SourceURL:          ev.SourceURL,
		ScrapedProductName: ev.ScrapedProductName,
	}

	if err := p.history.AppendWithMapping(ctx, entry); err != nil {
		return nil, fmt.Errorf("record price history: %w", err)
	}
	p.metrics.RecordPricePoint()

	point := &domain.PricePointRecordedEvent{
		CanonicalProductID: entry.CanonicalProductID,
		SellerName:         entry.SellerName,
		Price:              entry.Price,
		StockStatus:        entry.StockStatus,
		MappingID:          entry.MappingID,
		Timestamp:          entry.RecordedAt,
	}

	if _, err := p.publisher.Publish(ctx, p.streams.PricePoints, point); err != nil {
		return nil, fmt.Errorf("publish price point: %w", err)
	}

	p.log.Info("Price point recorded",
		logger.String("mapping_id", entry.MappingID),
		logger.String("product_id", entry.CanonicalProductID),
		logger.String("seller", entry.SellerName),
		logger.String("price", entry.Price.StringFixed(domain.PricePlaces)),
		logger.Int64("history_id", entry.ID),
	)
	return point, nil
}
