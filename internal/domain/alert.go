package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionKind is the kind of check an alert rule performs.
type ConditionKind string

const (
	ConditionPriceBelow          ConditionKind = "PRICE_BELOW"
	ConditionPercentDropFromLast ConditionKind = "PERCENT_DROP_FROM_LAST"
	ConditionBackInStock         ConditionKind = "BACK_IN_STOCK"
)

// AlertRule is a user's standing request to be notified about a product.
type AlertRule struct {
	ID                        string           `db:"id"`
	UserID                    string           `db:"user_id"`
	CanonicalProductID        string           `db:"canonical_product_id"`
	Condition                 ConditionKind    `db:"condition_type"`
	ThresholdValue            *decimal.Decimal `db:"threshold_value"`
	PercentageValue           *decimal.Decimal `db:"percentage_value"`
	SpecificSellerName        *string          `db:"specific_seller_name"`
	NotificationFrequencyMins int              `db:"notification_frequency_minutes"`
	IsActive                  bool             `db:"is_active"`
	LastNotifiedAt            *time.Time       `db:"last_notified_at"`
}

// Throttled reports whether a notification at now falls inside the rule's
// minimum notification interval.
func (r *AlertRule) Throttled(now time.Time) bool {
	if r.LastNotifiedAt == nil || r.NotificationFrequencyMins <= 0 {
		return false
	}
	return now.Sub(*r.LastNotifiedAt) < time.Duration(r.NotificationFrequencyMins)*time.Minute
}

// Describe renders a human readable summary of the rule.
func (r *AlertRule) Describe() string {
	switch r.Condition {
	case ConditionPriceBelow:
		if r.ThresholdValue != nil {
			return fmt.Sprintf("price at or below %s", r.ThresholdValue.StringFixed(PricePlaces))
		}
	case ConditionPercentDropFromLast:
		if r.PercentageValue != nil {
			return fmt.Sprintf("price dropped by at least %s%%", r.PercentageValue.String())
		}
	case ConditionBackInStock:
		return "product back in stock"
	}
	return string(r.Condition)
}

// TriggeredAlert is handed to the notification dispatcher.
type TriggeredAlert struct {
	RuleID             string           `json:"ruleId"`
	UserID             string           `json:"userId"`
	CanonicalProductID string           `json:"canonicalProductId"`
	SellerName         string           `json:"sellerName"`
	MappingID          string           `json:"mappingId"`
	Condition          ConditionKind    `json:"condition"`
	Price              decimal.Decimal  `json:"price"`
	StockStatus        string           `json:"stockStatus"`
	PreviousPrice      *decimal.Decimal `json:"previousPrice,omitempty"`
	Description        string           `json:"description"`
	TriggeredAt        time.Time        `json:"triggeredAt"`
}
