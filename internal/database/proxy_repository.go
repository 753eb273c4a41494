package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

const proxySelectColumns = `id, host, port, protocol, username, password, is_active, is_healthy,
	total_requests, success_count, failure_count, consecutive_failures, timeout_ms, max_retries,
	last_used_at, last_checked_at, last_error_kind`

// ProxyRepository persists proxy endpoints and their counters.
type ProxyRepository struct {
	db *sqlx.DB
}

// NewProxyRepository creates a new proxy repository.
func NewProxyRepository(db *sqlx.DB) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// List returns every configured proxy.
func (r *ProxyRepository) List(ctx context.Context) ([]domain.ProxyEndpoint, error) {
	query := `SELECT ` + proxySelectColumns + ` FROM proxies ORDER BY id`

	var proxies []domain.ProxyEndpoint
	if err := r.db.SelectContext(ctx, &proxies, query); err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}
	return proxies, nil
}

// ListActive returns proxies an operator has enabled.
func (r *ProxyRepository) ListActive(ctx context.Context) ([]domain.ProxyEndpoint, error) {
	query := `SELECT ` + proxySelectColumns + ` FROM proxies WHERE is_active = TRUE ORDER BY id`

	var proxies []domain.ProxyEndpoint
	if err := r.db.SelectContext(ctx, &proxies, query); err != nil {
		return nil, fmt.Errorf("failed to list active proxies: %w", err)
	}
	return proxies, nil
}

// SaveStats adds each process's unflushed activity to the shared rows.
// Counters are incremented so concurrent workers never overwrite each
// other, and health is only written when the flushing process changed it.
func (r *ProxyRepository) SaveStats(ctx context.Context, deltas []domain.ProxyStatsDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin proxy stats transaction: %w", err)
	}

	query := `
		UPDATE proxies
		SET total_requests = total_requests + $2,
			success_count = success_count + $3,
			failure_count = failure_count + $4,
			consecutive_failures = CASE WHEN $5::boolean THEN $6 ELSE consecutive_failures + $6 END,
			is_healthy = COALESCE($7::boolean, is_healthy),
			last_used_at = GREATEST(last_used_at, $8::timestamptz),
			last_checked_at = GREATEST(last_checked_at, $9::timestamptz),
			last_error_kind = COALESCE(NULLIF($10::text, ''), last_error_kind),
			updated_at = NOW()
		WHERE id = $1
	`

	for i := range deltas {
		d := &deltas[i]
		if _, execErr := tx.ExecContext(ctx, query,
			d.ID,
			d.Requests,
			d.Successes,
			d.Failures,
			d.ResetConsecutive,
			d.ConsecutiveFails,
			d.Healthy,
			d.LastUsedAt,
			d.LastCheckedAt,
			d.LastErrorKind,
		); execErr != nil {
			return rollback(tx, fmt.Errorf("update proxy %d stats: %w", d.ID, execErr))
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit proxy stats: %w", commitErr)
	}
	return nil
}
