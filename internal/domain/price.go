package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePlaces is the number of fractional digits persisted for a price.
const PricePlaces = 2

// maxPrice is the exclusive upper bound of a NUMERIC(12, 2) column.
var maxPrice = decimal.New(1, 10)

// PriceHistoryEntry is one persisted price observation.
type PriceHistoryEntry struct {
	ID                 int64           `db:"id"`
	RecordedAt         time.Time       `db:"recorded_at"`
	CanonicalProductID string          `db:"canonical_product_id"`
	MappingID          string          `db:"mapping_id"`
	SellerName         string          `db:"seller_name"`
	Price              decimal.Decimal `db:"price"`
	StockStatus        string          `db:"stock_status"`
	SourceURL          string          `db:"source_url"`
	ScrapedProductName *string         `db:"scraped_product_name"`
}

// RoundPrice rounds a price to the persisted precision.
func RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(PricePlaces)
}

// PriceInRange reports whether p, once rounded, fits the price columns.
func PriceInRange(p decimal.Decimal) bool {
	r := RoundPrice(p)
	return !r.IsNegative() && r.LessThan(maxPrice)
}
