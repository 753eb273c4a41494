// Package alerting evaluates alert rules against recorded price points.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/metrics"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/notify"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
)

// Evaluation results used as metric labels.
const (
	resultTriggered  = "triggered"
	resultNoMatch    = "no_match"
	resultThrottled  = "throttled"
	resultInvalid    = "invalid"
	resultClaimError = "claim_error"
)

// RuleStore loads rules and claims notifications.
type RuleStore interface {
	ActiveForProduct(ctx context.Context, productID string) ([]domain.AlertRule, error)
	ClaimNotification(ctx context.Context, alert *domain.TriggeredAlert, now time.Time) (bool, error)
}

// HistoryReader finds the previous price observation.
type HistoryReader interface {
	Previous(ctx context.Context, productID, sellerName string, before time.Time) (*domain.PriceHistoryEntry, error)
}

// Engine evaluates rules for each price point and dispatches the alerts it
// claims.
type Engine struct {
	rules      RuleStore
	history    HistoryReader
	dispatcher notify.Dispatcher
	log        logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewEngine creates an alert engine.
func NewEngine(
	rules RuleStore,
	history HistoryReader,
	dispatcher notify.Dispatcher,
	log logger.Logger,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		rules:      rules,
		history:    history,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
}

// Handle implements queue.Handler for PricePointRecordedEvent messages.
func (e *Engine) Handle(ctx context.Context, msg queue.Message) error {
	point, err := queue.Decode[domain.PricePointRecordedEvent](msg)
	if err != nil {
		return err
	}
	if point.CanonicalProductID == "" || point.SellerName == "" {
		return fmt.Errorf("%w: price point without product or seller", queue.ErrMalformed)
	}

	_, err = e.Evaluate(ctx, &point)
	return err
}

// Evaluate checks every active rule for the point's product and returns the
// alerts that fired and were claimed. Throttled rules are skipped silently.
func (e *Engine) Evaluate(ctx context.Context, point *domain.PricePointRecordedEvent) ([]domain.TriggeredAlert, error) {
	rules, err := e.rules.ActiveForProduct(ctx, point.CanonicalProductID)
	if err != nil {
		return nil, fmt.Errorf("load alert rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	log := logger.FromContextOr(ctx, e.log).With(
		logger.String("product_id", point.CanonicalProductID),
		logger.String("seller", point.SellerName),
	)

	prev, err := e.previous(ctx, rules, point)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var (
		triggered []domain.TriggeredAlert
		errs      []error
	)
	for i := range rules {
		rule := &rules[i]
		if !appliesToSeller(rule, point.SellerName) {
			continue
		}

		alert, ok, claimErr := e.evaluateRule(ctx, log, rule, point, prev, now)
		if claimErr != nil {
			errs = append(errs, claimErr)
			continue
		}
		if !ok {
			continue
		}

		triggered = append(triggered, *alert)
		e.dispatch(ctx, log, alert)
	}

	return triggered, errors.Join(errs...)
}

func (e *Engine) evaluateRule(
	ctx context.Context,
	log logger.Logger,
	rule *domain.AlertRule,
	point *domain.PricePointRecordedEvent,
	prev *domain.PriceHistoryEntry,
	now time.Time,
) (*domain.TriggeredAlert, bool, error) {
	condition := string(rule.Condition)

	if !validRule(rule) {
		log.Warn("Skipping misconfigured alert rule",
			logger.String("rule_id", rule.ID),
			logger.String("condition", condition),
		)
		e.metrics.RecordRuleEvaluation(condition, resultInvalid)
		return nil, false, nil
	}

	if !Match(rule, point, prev) {
		e.metrics.RecordRuleEvaluation(condition, resultNoMatch)
		return nil, false, nil
	}

	// Cheap pre-check; the claim re-checks under a row lock.
	if rule.Throttled(now) {
		e.metrics.RecordRuleEvaluation(condition, resultThrottled)
		return nil, false, nil
	}

	alert := newAlert(rule, point, prev, now)
	claimed, err := e.rules.ClaimNotification(ctx, alert, now)
	if err != nil {
		e.metrics.RecordRuleEvaluation(condition, resultClaimError)
		return nil, false, fmt.Errorf("claim rule %s: %w", rule.ID, err)
	}
	if !claimed {
		e.metrics.RecordRuleEvaluation(condition, resultThrottled)
		log.Debug("Alert throttled", logger.String("rule_id", rule.ID))
		return nil, false, nil
	}

	e.metrics.RecordRuleEvaluation(condition, resultTriggered)
	return alert, true, nil
}

func (e *Engine) dispatch(ctx context.Context, log logger.Logger, alert *domain.TriggeredAlert) {
	if err := e.dispatcher.Dispatch(ctx, alert); err != nil {
		e.metrics.RecordDispatchFailure()
		log.Error("Failed to dispatch alert",
			logger.String("rule_id", alert.RuleID),
			logger.String("user_id", alert.UserID),
			logger.Error(err),
		)
		return
	}
	log.Info("Alert dispatched",
		logger.String("rule_id", alert.RuleID),
		logger.String("user_id", alert.UserID),
		logger.String("condition", string(alert.Condition)),
	)
}

// previous loads the baseline entry only when some rule needs it.
func (e *Engine) previous(
	ctx context.Context,
	rules []domain.AlertRule,
	point *domain.PricePointRecordedEvent,
) (*domain.PriceHistoryEntry, error) {
	for i := range rules {
		if needsPrevious(&rules[i]) && appliesToSeller(&rules[i], point.SellerName) {
			prev, err := e.history.Previous(ctx, point.CanonicalProductID, point.SellerName, point.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("load previous price: %w", err)
			}
			return prev, nil
		}
	}
	return nil, nil //nolint:nilnil // no rule needs a baseline
}

func appliesToSeller(rule *domain.AlertRule, seller string) bool {
	if rule.SpecificSellerName == nil || strings.TrimSpace(*rule.SpecificSellerName) == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(*rule.SpecificSellerName), seller)
}

func newAlert(
	rule *domain.AlertRule,
	point *domain.PricePointRecordedEvent,
	prev *domain.PriceHistoryEntry,
	now time.Time,
) *domain.TriggeredAlert {
	alert := &domain.TriggeredAlert{
		RuleID:             rule.ID,
		UserID:             rule.UserID,
		CanonicalProductID: point.CanonicalProductID,
		SellerName:         point.SellerName,
		MappingID:          point.MappingID,
		Condition:          rule.Condition,
		Price:              point.Price,
		StockStatus:        point.StockStatus,
		Description:        rule.Describe(),
		TriggeredAt:        now.UTC(),
	}
	if prev != nil {
		p := prev.Price
		alert.PreviousPrice = &p
	}
	return alert
}
