package alerting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/alerting"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func strPtr(s string) *string { return &s }

// memoryRules mimics the locked claim: it re-checks the throttle against
// the stored last_notified_at.
type memoryRules struct {
	mu       sync.Mutex
	rules    []domain.AlertRule
	claimErr error
	claims   int
}

func (m *memoryRules) ActiveForProduct(_ context.Context, productID string) ([]domain.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AlertRule
	for _, r := range m.rules {
		if r.CanonicalProductID == productID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRules) ClaimNotification(_ context.Context, alert *domain.TriggeredAlert, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	for i := range m.rules {
		if m.rules[i].ID != alert.RuleID {
			continue
		}
		if m.rules[i].Throttled(now) {
			return false, nil
		}
		stamped := now
		m.rules[i].LastNotifiedAt = &stamped
		m.claims++
		return true, nil
	}
	return false, errors.New("rule not found")
}

type memoryHistory struct {
	prev  *domain.PriceHistoryEntry
	calls int
}

func (h *memoryHistory) Previous(context.Context, string, string, time.Time) (*domain.PriceHistoryEntry, error) {
	h.calls++
	return h.prev, nil
}

type recordingDispatcher struct {
	alerts []domain.TriggeredAlert
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, alert *domain.TriggeredAlert) error {
	d.alerts = append(d.alerts, *alert)
	return d.err
}

func rule(id string, cond domain.ConditionKind) domain.AlertRule {
	return domain.AlertRule{
		ID:                        id,
		UserID:                    "user-1",
		CanonicalProductID:        "prod-1",
		Condition:                 cond,
		NotificationFrequencyMins: 60,
		IsActive:                  true,
	}
}

func point(price string, stock string) *domain.PricePointRecordedEvent {
	return &domain.PricePointRecordedEvent{
		CanonicalProductID: "prod-1",
		SellerName:         "Acme",
		Price:              decimal.RequireFromString(price),
		StockStatus:        stock,
		MappingID:          "map-1",
		Timestamp:          baseTime,
	}
}

func newEngine(rules *memoryRules, history *memoryHistory, d *recordingDispatcher) *alerting.Engine {
	e := alerting.NewEngine(rules, history, d, logger.NewNop(), nil)
	e.SetClock(func() time.Time { return baseTime })
	return e
}

func TestMatch_PercentDropBoundary(t *testing.T) {
	t.Parallel()

	r := rule("r", domain.ConditionPercentDropFromLast)
	r.PercentageValue = dec("15")
	prev := &domain.PriceHistoryEntry{Price: decimal.NewFromInt(100), StockStatus: domain.StockInStock}

	tests := []struct {
		price string
		want  bool
	}{
		{"85", true},
		{"85.00", true},
		{"84.99", true},
		{"85.01", false},
		{"100", false},
		{"120", false},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, alerting.Match(&r, point(tt.price, domain.StockInStock), prev))
		})
	}
}

func TestMatch_PercentDropNeedsPositiveBaseline(t *testing.T) {
	t.Parallel()

	r := rule("r", domain.ConditionPercentDropFromLast)
	r.PercentageValue = dec("10")

	assert.False(t, alerting.Match(&r, point("1", domain.StockInStock), nil))
	assert.False(t, alerting.Match(&r, point("0", domain.StockInStock),
		&domain.PriceHistoryEntry{Price: decimal.Zero}))
}

func TestMatch_PriceBelow(t *testing.T) {
	t.Parallel()

	r := rule("r", domain.ConditionPriceBelow)
	r.ThresholdValue = dec("50.00")

	assert.True(t, alerting.Match(&r, point("50", domain.StockInStock), nil))
	assert.True(t, alerting.Match(&r, point("49.99", domain.StockInStock), nil))
	assert.False(t, alerting.Match(&r, point("50.01", domain.StockInStock), nil))
}

func TestMatch_BackInStock(t *testing.T) {
	t.Parallel()

	r := rule("r", domain.ConditionBackInStock)
	outOfStock := &domain.PriceHistoryEntry{Price: decimal.NewFromInt(10), StockStatus: domain.StockOutOfStock}
	inStock := &domain.PriceHistoryEntry{Price: decimal.NewFromInt(10), StockStatus: domain.StockInStock}

	assert.True(t, alerting.Match(&r, point("10", domain.StockInStock), outOfStock))
	assert.False(t, alerting.Match(&r, point("10", domain.StockInStock), inStock))
	assert.False(t, alerting.Match(&r, point("10", domain.StockInStock), nil))
	assert.False(t, alerting.Match(&r, point("10", domain.StockLimitedStock), outOfStock))
}

func TestEngine_TriggersAndDispatches(t *testing.T) {
	t.Parallel()

	below := rule("below", domain.ConditionPriceBelow)
	below.ThresholdValue = dec("90")
	drop := rule("drop", domain.ConditionPercentDropFromLast)
	drop.PercentageValue = dec("15")

	rules := &memoryRules{rules: []domain.AlertRule{below, drop}}
	history := &memoryHistory{prev: &domain.PriceHistoryEntry{Price: decimal.NewFromInt(100), StockStatus: domain.StockInStock}}
	d := &recordingDispatcher{}
	e := newEngine(rules, history, d)

	alerts, err := e.Evaluate(context.Background(), point("85", domain.StockInStock))
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Len(t, d.alerts, 2)

	assert.Equal(t, "below", alerts[0].RuleID)
	assert.Equal(t, "drop", alerts[1].RuleID)
	require.NotNil(t, alerts[1].PreviousPrice)
	assert.True(t, alerts[1].PreviousPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "price dropped by at least 15%", alerts[1].Description)
	assert.Equal(t, 1, history.calls)
}

func TestEngine_ThrottlesRepeatNotifications(t *testing.T) {
	t.Parallel()

	below := rule("below", domain.ConditionPriceBelow)
	below.ThresholdValue = dec("90")

	rules := &memoryRules{rules: []domain.AlertRule{below}}
	d := &recordingDispatcher{}
	e := newEngine(rules, &memoryHistory{}, d)

	first, err := e.Evaluate(context.Background(), point("80", domain.StockInStock))
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := e.Evaluate(context.Background(), point("79", domain.StockInStock))
	require.NoError(t, err)
	assert.Empty(t, second)

	assert.Equal(t, 1, rules.claims)
	assert.Len(t, d.alerts, 1)

	e.SetClock(func() time.Time { return baseTime.Add(61 * time.Minute) })
	third, err := e.Evaluate(context.Background(), point("78", domain.StockInStock))
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestEngine_SellerFilter(t *testing.T) {
	t.Parallel()

	acme := rule("acme", domain.ConditionPriceBelow)
	acme.ThresholdValue = dec("90")
	acme.SpecificSellerName = strPtr("  ACME ")
	other := rule("other", domain.ConditionPriceBelow)
	other.ThresholdValue = dec("90")
	other.SpecificSellerName = strPtr("Globex")

	rules := &memoryRules{rules: []domain.AlertRule{acme, other}}
	e := newEngine(rules, &memoryHistory{}, &recordingDispatcher{})

	alerts, err := e.Evaluate(context.Background(), point("50", domain.StockInStock))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "acme", alerts[0].RuleID)
}

func TestEngine_SkipsHistoryLookupWhenUnneeded(t *testing.T) {
	t.Parallel()

	below := rule("below", domain.ConditionPriceBelow)
	below.ThresholdValue = dec("10")
	history := &memoryHistory{}
	e := newEngine(&memoryRules{rules: []domain.AlertRule{below}}, history, &recordingDispatcher{})

	_, err := e.Evaluate(context.Background(), point("50", domain.StockInStock))
	require.NoError(t, err)
	assert.Zero(t, history.calls)
}

func TestEngine_InvalidRuleIsSkipped(t *testing.T) {
	t.Parallel()

	broken := rule("broken", domain.ConditionPriceBelow)
	e := newEngine(&memoryRules{rules: []domain.AlertRule{broken}}, &memoryHistory{}, &recordingDispatcher{})

	alerts, err := e.Evaluate(context.Background(), point("1", domain.StockInStock))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEngine_DispatchFailureKeepsClaim(t *testing.T) {
	t.Parallel()

	below := rule("below", domain.ConditionPriceBelow)
	below.ThresholdValue = dec("90")
	rules := &memoryRules{rules: []domain.AlertRule{below}}
	d := &recordingDispatcher{err: errors.New("webhook down")}
	e := newEngine(rules, &memoryHistory{}, d)

	alerts, err := e.Evaluate(context.Background(), point("80", domain.StockInStock))
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Equal(t, 1, rules.claims)
}

func TestEngine_ClaimErrorIsReturned(t *testing.T) {
	t.Parallel()

	below := rule("below", domain.ConditionPriceBelow)
	below.ThresholdValue = dec("90")
	rules := &memoryRules{rules: []domain.AlertRule{below}, claimErr: errors.New("deadlock detected")}
	d := &recordingDispatcher{}
	e := newEngine(rules, &memoryHistory{}, d)

	_, err := e.Evaluate(context.Background(), point("80", domain.StockInStock))
	require.Error(t, err)
	assert.Empty(t, d.alerts)
}
