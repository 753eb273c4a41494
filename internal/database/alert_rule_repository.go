package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

const alertRuleSelectColumns = `id, user_id, canonical_product_id, condition_type, threshold_value,
	percentage_value, specific_seller_name, notification_frequency_minutes, is_active, last_notified_at`

// AlertRuleRepository handles alert rules and their notification log.
type AlertRuleRepository struct {
	db *sqlx.DB
}

// NewAlertRuleRepository creates a new alert rule repository.
func NewAlertRuleRepository(db *sqlx.DB) *AlertRuleRepository {
	return &AlertRuleRepository{db: db}
}

// ActiveForProduct returns the active rules watching a product.
func (r *AlertRuleRepository) ActiveForProduct(ctx context.Context, productID string) ([]domain.AlertRule, error) {
	query := `SELECT ` + alertRuleSelectColumns + `
		FROM alert_rules
		WHERE canonical_product_id = $1 AND is_active = TRUE
		ORDER BY id`

	var rules []domain.AlertRule
	if err := r.db.SelectContext(ctx, &rules, query, productID); err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// ClaimNotification atomically checks the rule's throttle window and, when
// it has elapsed, stamps last_notified_at and logs the notification. It
// returns false when the rule is throttled or no longer active.
func (r *AlertRuleRepository) ClaimNotification(
	ctx context.Context,
	alert *domain.TriggeredAlert,
	now time.Time,
) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim transaction: %w", err)
	}

	lockQuery := `
		SELECT notification_frequency_minutes, is_active, last_notified_at
		FROM alert_rules
		WHERE id = $1
		FOR UPDATE
	`

	var rule domain.AlertRule
	if getErr := tx.GetContext(ctx, &rule, lockQuery, alert.RuleID); getErr != nil {
		if errors.Is(getErr, sql.ErrNoRows) {
			return false, rollback(tx, fmt.Errorf("%w: %s", ErrRuleNotFound, alert.RuleID))
		}
		return false, rollback(tx, fmt.Errorf("lock alert rule: %w", getErr))
	}

	if !rule.IsActive || rule.Throttled(now) {
		return false, tx.Rollback()
	}

	updateQuery := `UPDATE alert_rules SET last_notified_at = $2, updated_at = NOW() WHERE id = $1`
	if _, execErr := tx.ExecContext(ctx, updateQuery, alert.RuleID, now); execErr != nil {
		return false, rollback(tx, fmt.Errorf("stamp alert rule: %w", execErr))
	}

	insertQuery := `
		INSERT INTO alert_notifications (
			rule_id, user_id, canonical_product_id, seller_name, mapping_id, condition_type,
			price, previous_price, stock_status, description, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, execErr := tx.ExecContext(ctx, insertQuery,
		alert.RuleID,
		alert.UserID,
		alert.CanonicalProductID,
		alert.SellerName,
		alert.MappingID,
		alert.Condition,
		alert.Price,
		alert.PreviousPrice,
		alert.StockStatus,
		alert.Description,
		now,
	); execErr != nil {
		return false, rollback(tx, fmt.Errorf("insert alert notification: %w", execErr))
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return false, fmt.Errorf("commit claim: %w", commitErr)
	}
	return true, nil
}
