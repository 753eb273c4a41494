// Package notify delivers triggered alerts to their destinations.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

// Dispatcher delivers one triggered alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *domain.TriggeredAlert) error
}

// Publisher appends an event to a stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, v any) (string, error)
}

// StreamDispatcher publishes alerts to a Redis stream for downstream
// notification services.
type StreamDispatcher struct {
	publisher Publisher
	stream    string
}

// NewStreamDispatcher creates a stream dispatcher.
func NewStreamDispatcher(pub Publisher, stream string) *StreamDispatcher {
	return &StreamDispatcher{publisher: pub, stream: stream}
}

// Dispatch implements Dispatcher.
func (d *StreamDispatcher) Dispatch(ctx context.Context, alert *domain.TriggeredAlert) error {
	if _, err := d.publisher.Publish(ctx, d.stream, alert); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.RuleID, err)
	}
	return nil
}

// LogDispatcher writes alerts to the log. Useful in development.
type LogDispatcher struct {
	log logger.Logger
}

// NewLogDispatcher creates a log dispatcher.
func NewLogDispatcher(log logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, alert *domain.TriggeredAlert) error {
	d.log.Info("Alert triggered",
		logger.String("rule_id", alert.RuleID),
		logger.String("user_id", alert.UserID),
		logger.String("product_id", alert.CanonicalProductID),
		logger.String("seller", alert.SellerName),
		logger.String("price", alert.Price.StringFixed(domain.PricePlaces)),
		logger.String("description", alert.Description),
	)
	return nil
}

// MultiDispatcher fans an alert out to every dispatcher. All are tried;
// failures are joined.
type MultiDispatcher []Dispatcher

// Dispatch implements Dispatcher.
func (m MultiDispatcher) Dispatch(ctx context.Context, alert *domain.TriggeredAlert) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
