package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScrapingResultEvent reports the outcome of one scrape command.
type ScrapingResultEvent struct {
	MappingID     string    `json:"mappingId"`
	WasSuccessful bool      `json:"wasSuccessful"`
	ErrorCode     ErrorCode `json:"errorCode,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	HTTPStatus    int       `json:"httpStatus,omitempty"`
	ScrapedAt     time.Time `json:"scrapedAt"`
}

// RawPriceDataEvent carries a successfully extracted price.
type RawPriceDataEvent struct {
	MappingID          string          `json:"mappingId"`
	CanonicalProductID string          `json:"canonicalProductId"`
	SellerName         string          `json:"sellerName"`
	ScrapedPrice       decimal.Decimal `json:"scrapedPrice"`
	ScrapedStockStatus string          `json:"scrapedStockStatus"`
	SourceURL          string          `json:"sourceUrl"`
	ScrapedProductName *string         `json:"scrapedProductName,omitempty"`
	ScrapedAt          time.Time       `json:"scrapedAt"`
}

// PricePointRecordedEvent is emitted after a price history row commits.
type PricePointRecordedEvent struct {
	CanonicalProductID string          `json:"canonicalProductId"`
	SellerName         string          `json:"sellerName"`
	Price              decimal.Decimal `json:"price"`
	StockStatus        string          `json:"stockStatus"`
	MappingID          string          `json:"mappingId"`
	Timestamp          time.Time       `json:"timestamp"`
}
