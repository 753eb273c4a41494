package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

const mappingSelectColumns = `id, canonical_product_id, seller_name, exact_product_url,
	product_name_selector, price_selector, stock_selector, seller_name_on_page_selector,
	user_agent, headers, is_active, last_scraped_at, last_scrape_status, last_error_code,
	last_error_message, consecutive_failure_count, last_price`

// MappingRepository handles product/seller mappings.
type MappingRepository struct {
	db *sqlx.DB
}

// NewMappingRepository creates a new mapping repository.
func NewMappingRepository(db *sqlx.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// GetByID returns one mapping or ErrMappingNotFound.
func (r *MappingRepository) GetByID(ctx context.Context, id string) (*domain.ProductSellerMapping, error) {
	query := `SELECT ` + mappingSelectColumns + ` FROM product_seller_mappings WHERE id = $1`

	var m domain.ProductSellerMapping
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, id)
		}
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return &m, nil
}

// ListDue returns active mappings ordered by how long ago they were last
// scraped, never-scraped first.
func (r *MappingRepository) ListDue(ctx context.Context, limit int) ([]domain.ProductSellerMapping, error) {
	query := `SELECT ` + mappingSelectColumns + `
		FROM product_seller_mappings
		WHERE is_active = TRUE
		ORDER BY last_scraped_at ASC NULLS FIRST
		LIMIT $1`

	var mappings []domain.ProductSellerMapping
	if err := r.db.SelectContext(ctx, &mappings, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list due mappings: %w", err)
	}
	return mappings, nil
}

// RecordScrapeResult updates scrape bookkeeping from a result event. A
// failure increments the consecutive failure count; a success resets it.
func (r *MappingRepository) RecordScrapeResult(ctx context.Context, ev *domain.ScrapingResultEvent) error {
	status := domain.ScrapeStatusSuccess
	if !ev.WasSuccessful {
		status = domain.ScrapeStatusFailed
	}

	query := `
		UPDATE product_seller_mappings
		SET last_scraped_at = $2,
			last_scrape_status = $3,
			last_error_code = $4,
			last_error_message = $5,
			consecutive_failure_count = CASE WHEN $6 THEN 0 ELSE consecutive_failure_count + 1 END,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		ev.MappingID,
		ev.ScrapedAt,
		status,
		nullableString(string(ev.ErrorCode)),
		nullableString(ev.ErrorMessage),
		ev.WasSuccessful,
	)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrMappingNotFound, ev.MappingID))
}
