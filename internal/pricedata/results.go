package pricedata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
)

// MappingStore updates mapping scrape bookkeeping.
type MappingStore interface {
	RecordScrapeResult(ctx context.Context, ev *domain.ScrapingResultEvent) error
}

// ResultHandler consumes ScrapingResultEvent messages.
type ResultHandler struct {
	mappings MappingStore
	log      logger.Logger
}

// NewResultHandler creates a result handler.
func NewResultHandler(mappings MappingStore, log logger.Logger) *ResultHandler {
	return &ResultHandler{mappings: mappings, log: log}
}

// Handle implements queue.Handler. Results for unknown mappings are
// dropped with a warning.
func (h *ResultHandler) Handle(ctx context.Context, msg queue.Message) error {
	ev, err := queue.Decode[domain.ScrapingResultEvent](msg)
	if err != nil {
		return err
	}
	if ev.MappingID == "" {
		return fmt.Errorf("%w: mappingId is required", queue.ErrMalformed)
	}
	if ev.ScrapedAt.IsZero() {
		ev.ScrapedAt = time.Now().UTC()
	}

	if recordErr := h.mappings.RecordScrapeResult(ctx, &ev); recordErr != nil {
		if errors.Is(recordErr, database.ErrMappingNotFound) {
			h.log.Warn("Scrape result for unknown mapping",
				logger.String("mapping_id", ev.MappingID),
			)
			return nil
		}
		return fmt.Errorf("record scrape result: %w", recordErr)
	}

	if !ev.WasSuccessful {
		h.log.Info("Mapping scrape failure recorded",
			logger.String("mapping_id", ev.MappingID),
			logger.String("error_code", string(ev.ErrorCode)),
		)
	}
	return nil
}
