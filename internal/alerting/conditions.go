package alerting

import (
	"github.com/shopspring/decimal"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Match reports whether rule fires for a price point given the previous
// observation for the same product and seller (nil when there is none).
func Match(rule *domain.AlertRule, point *domain.PricePointRecordedEvent, prev *domain.PriceHistoryEntry) bool {
	switch rule.Condition {
	case domain.ConditionPriceBelow:
		return rule.ThresholdValue != nil && point.Price.LessThanOrEqual(*rule.ThresholdValue)

	case domain.ConditionPercentDropFromLast:
		if rule.PercentageValue == nil || prev == nil || !prev.Price.IsPositive() {
			return false
		}
		// (prev - price) / prev * 100 >= pct, kept free of division.
		drop := prev.Price.Sub(point.Price).Mul(hundred)
		return drop.GreaterThanOrEqual(rule.PercentageValue.Mul(prev.Price))

	case domain.ConditionBackInStock:
		return point.StockStatus == domain.StockInStock &&
			prev != nil && prev.StockStatus != domain.StockInStock

	default:
		return false
	}
}

// validRule reports whether rule carries the parameter its condition needs.
func validRule(rule *domain.AlertRule) bool {
	switch rule.Condition {
	case domain.ConditionPriceBelow:
		return rule.ThresholdValue != nil
	case domain.ConditionPercentDropFromLast:
		return rule.PercentageValue != nil && rule.PercentageValue.IsPositive()
	case domain.ConditionBackInStock:
		return true
	default:
		return false
	}
}

func needsPrevious(rule *domain.AlertRule) bool {
	return rule.Condition == domain.ConditionPercentDropFromLast ||
		rule.Condition == domain.ConditionBackInStock
}
