package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

// ScrapeRunLogRepository records the outcome of each scrape command.
type ScrapeRunLogRepository struct {
	db *sqlx.DB
}

// NewScrapeRunLogRepository creates a new run log repository.
func NewScrapeRunLogRepository(db *sqlx.DB) *ScrapeRunLogRepository {
	return &ScrapeRunLogRepository{db: db}
}

// Insert writes one run log row.
func (r *ScrapeRunLogRepository) Insert(ctx context.Context, entry *domain.ScrapeRunLog) error {
	query := `
		INSERT INTO scrape_run_logs (
			mapping_id, status, success, http_status, error_code, error_message,
			price, stock_status, raw_html, duration_ms, started_at
		) VALUES (
			:mapping_id, :status, :success, :http_status, :error_code, :error_message,
			:price, :stock_status, :raw_html, :duration_ms, :started_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to insert scrape run log: %w", err)
	}
	return nil
}
