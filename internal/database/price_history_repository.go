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

const priceHistorySelectColumns = `id, recorded_at, canonical_product_id, mapping_id, seller_name,
	price, stock_status, source_url, scraped_product_name`

// PriceHistoryRepository handles the append-only price history.
type PriceHistoryRepository struct {
	db *sqlx.DB
}

// NewPriceHistoryRepository creates a new price history repository.
func NewPriceHistoryRepository(db *sqlx.DB) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db}
}

// AppendWithMapping inserts a history row and marks the owning mapping as
// successfully scraped, in one transaction. The entry's price is rounded to
// two places and ID/RecordedAt are filled from the inserted row.
func (r *PriceHistoryRepository) AppendWithMapping(ctx context.Context, entry *domain.PriceHistoryEntry) error {
	entry.Price = domain.RoundPrice(entry.Price)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin price history transaction: %w", err)
	}

	insertQuery := `
		INSERT INTO price_history (
			recorded_at, canonical_product_id, mapping_id, seller_name,
			price, stock_status, source_url, scraped_product_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, recorded_at
	`

	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	if scanErr := tx.QueryRowxContext(ctx, insertQuery,
		recordedAt,
		entry.CanonicalProductID,
		entry.MappingID,
		entry.SellerName,
		entry.Price,
		entry.StockStatus,
		entry.SourceURL,
		entry.ScrapedProductName,
	).Scan(&entry.ID, &entry.RecordedAt); scanErr != nil {
		return rollback(tx, fmt.Errorf("insert price history: %w", scanErr))
	}

	updateQuery := `
		UPDATE product_seller_mappings
		SET last_scraped_at = $2, last_scrape_status = $3, consecutive_failure_count = 0,
			last_error_code = NULL, last_error_message = NULL, last_price = $4, updated_at = NOW()
		WHERE id = $1
	`

	if _, execErr := tx.ExecContext(ctx, updateQuery,
		entry.MappingID, entry.RecordedAt, domain.ScrapeStatusSuccess, entry.Price,
	); execErr != nil {
		return rollback(tx, fmt.Errorf("update mapping bookkeeping: %w", execErr))
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit price history: %w", commitErr)
	}
	return nil
}

// Previous returns the most recent entry for (product, seller) recorded
// strictly before the given time, or nil when there is none.
func (r *PriceHistoryRepository) Previous(
	ctx context.Context,
	productID, sellerName string,
	before time.Time,
) (*domain.PriceHistoryEntry, error) {
	query := `SELECT ` + priceHistorySelectColumns + `
		FROM price_history
		WHERE canonical_product_id = $1 AND seller_name = $2 AND recorded_at < $3
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`

	return r.getOne(ctx, query, productID, sellerName, before)
}

// ListForProduct returns the newest entries for a product across sellers.
func (r *PriceHistoryRepository) ListForProduct(
	ctx context.Context,
	productID string,
	limit int,
) ([]domain.PriceHistoryEntry, error) {
	query := `SELECT ` + priceHistorySelectColumns + `
		FROM price_history
		WHERE canonical_product_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`

	var entries []domain.PriceHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, productID, limit); err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	return entries, nil
}

func (r *PriceHistoryRepository) getOne(ctx context.Context, query string, args ...any) (*domain.PriceHistoryEntry, error) {
	var entry domain.PriceHistoryEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // absence is a valid result
		}
		return nil, fmt.Errorf("select price history: %w", err)
	}
	return &entry, nil
}
