package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Mapping bookkeeping statuses.
const (
	ScrapeStatusSuccess = "SUCCESS"
	ScrapeStatusFailed  = "FAILED"
)

// StringMap is a string map stored as a JSON column.
type StringMap map[string]string

// Value implements driver.Valuer.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, fmt.Errorf("marshal string map: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (m *StringMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("string map: unsupported column type")
	}
	return json.Unmarshal(data, (*map[string]string)(m))
}

// ProductSellerMapping ties a canonical product to one seller page and the
// selectors used to scrape it.
type ProductSellerMapping struct {
	ID                 string `db:"id"`
	CanonicalProductID string `db:"canonical_product_id"`
	SellerName         string `db:"seller_name"`
	ExactProductURL    string `db:"exact_product_url"`

	ProductNameSelector      *string   `db:"product_name_selector"`
	PriceSelector            string    `db:"price_selector"`
	StockSelector            *string   `db:"stock_selector"`
	SellerNameOnPageSelector *string   `db:"seller_name_on_page_selector"`
	UserAgent                *string   `db:"user_agent"`
	Headers                  StringMap `db:"headers"`

	IsActive                bool             `db:"is_active"`
	LastScrapedAt           *time.Time       `db:"last_scraped_at"`
	LastScrapeStatus        *string          `db:"last_scrape_status"`
	LastErrorCode           *string          `db:"last_error_code"`
	LastErrorMessage        *string          `db:"last_error_message"`
	ConsecutiveFailureCount int              `db:"consecutive_failure_count"`
	LastPrice               *decimal.Decimal `db:"last_price"`
}

// Command builds the scrape command for this mapping.
func (m *ProductSellerMapping) Command() ScrapeCommand {
	return ScrapeCommand{
		MappingID:          m.ID,
		CanonicalProductID: m.CanonicalProductID,
		SellerName:         m.SellerName,
		ExactProductURL:    m.ExactProductURL,
		Selectors: Selectors{
			ProductName:      deref(m.ProductNameSelector),
			Price:            m.PriceSelector,
			Stock:            deref(m.StockSelector),
			SellerNameOnPage: deref(m.SellerNameOnPageSelector),
		},
		ScrapingProfile: ScrapingProfile{
			UserAgent: deref(m.UserAgent),
			Headers:   m.Headers,
		},
	}
}

// ScrapeRunLog is the audit row written for every processed scrape command.
type ScrapeRunLog struct {
	ID           int64            `db:"id"`
	MappingID    string           `db:"mapping_id"`
	Status       ScrapeStatus     `db:"status"`
	Success      bool             `db:"success"`
	HTTPStatus   *int             `db:"http_status"`
	ErrorCode    *string          `db:"error_code"`
	ErrorMessage *string          `db:"error_message"`
	Price        *decimal.Decimal `db:"price"`
	StockStatus  *string          `db:"stock_status"`
	RawHTML      *string          `db:"raw_html"`
	DurationMS   int64            `db:"duration_ms"`
	StartedAt    time.Time        `db:"started_at"`
}

// NewScrapeRunLog converts an outcome into its audit row.
func NewScrapeRunLog(o *ScrapeOutcome) ScrapeRunLog {
	entry := ScrapeRunLog{
		MappingID:  o.MappingID,
		Status:     o.Status,
		Success:    o.Success,
		Price:      o.Price,
		DurationMS: o.Duration.Milliseconds(),
		StartedAt:  o.StartedAt,
	}
	if o.HTTPStatus != 0 {
		status := o.HTTPStatus
		entry.HTTPStatus = &status
	}
	if o.ErrorCode != "" {
		code := string(o.ErrorCode)
		entry.ErrorCode = &code
	}
	if o.ErrorMessage != "" {
		msg := o.ErrorMessage
		entry.ErrorMessage = &msg
	}
	if o.StockStatus != "" {
		stock := o.StockStatus
		entry.StockStatus = &stock
	}
	if o.RawHTML != "" {
		html := o.RawHTML
		entry.RawHTML = &html
	}
	return entry
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
