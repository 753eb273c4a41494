package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Stock status values produced by normalization.
const (
	StockInStock      = "IN_STOCK"
	StockOutOfStock   = "OUT_OF_STOCK"
	StockLimitedStock = "LIMITED_STOCK"
	StockUnknown      = "UNKNOWN"
)

// ErrorCode is the failure vocabulary surfaced on a failed scrape.
type ErrorCode string

const (
	CodeParsingError     ErrorCode = "PARSING_ERROR"
	CodePriceNotFound    ErrorCode = "PRICE_NOT_FOUND"
	CodeTimeoutError     ErrorCode = "TIMEOUT_ERROR"
	CodeNetworkError     ErrorCode = "NETWORK_ERROR"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeBlockedByCaptcha ErrorCode = "BLOCKED_BY_CAPTCHA"
	CodeHTTPError        ErrorCode = "HTTP_ERROR"
	CodeUnknownError     ErrorCode = "UNKNOWN_ERROR"
)

// Selectors are the CSS selectors used to pull fields from a seller page.
type Selectors struct {
	ProductName      string `json:"productNameSelector,omitempty"`
	Price            string `json:"priceSelector"`
	Stock            string `json:"stockSelector,omitempty"`
	SellerNameOnPage string `json:"sellerNameOnPageSelector,omitempty"`
}

// ScrapingProfile shapes the outbound request.
type ScrapingProfile struct {
	UserAgent string            `json:"userAgent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// ScrapeCommand instructs a worker to fetch and parse one mapping's page.
type ScrapeCommand struct {
	MappingID          string          `json:"mappingId"`
	CanonicalProductID string          `json:"canonicalProductId"`
	SellerName         string          `json:"sellerName"`
	ExactProductURL    string          `json:"exactProductUrl"`
	Selectors          Selectors       `json:"selectors"`
	ScrapingProfile    ScrapingProfile `json:"scrapingProfile"`
}

// ScrapeStatus is a state of the per-command state machine.
type ScrapeStatus string

const (
	StatusReceived   ScrapeStatus = "RECEIVED"
	StatusFetching   ScrapeStatus = "FETCHING"
	StatusExtracting ScrapeStatus = "EXTRACTING"
	StatusSucceeded  ScrapeStatus = "SUCCEEDED"
	StatusFailed     ScrapeStatus = "FAILED"
)

// MaxStockStatusLen bounds stock text, in characters, to the width of the
// stock_status columns.
const MaxStockStatusLen = 255

// BoundStockStatus trims s and cuts it to MaxStockStatusLen characters.
func BoundStockStatus(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxStockStatusLen {
		return s
	}
	return string([]rune(s)[:MaxStockStatusLen])
}

// MaxRawHTMLBytes bounds the page body kept on a ScrapeOutcome.
const MaxRawHTMLBytes = 64 << 10

// BoundRawHTML truncates body to MaxRawHTMLBytes without splitting a rune.
func BoundRawHTML(body []byte) string {
	if len(body) <= MaxRawHTMLBytes {
		return string(body)
	}
	cut := MaxRawHTMLBytes
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut])
}

// ScrapeOutcome is the result of processing one ScrapeCommand.
type ScrapeOutcome struct {
	MappingID    string
	Status       ScrapeStatus
	Success      bool
	ProductName  *string
	SellerOnPage *string
	Price        *decimal.Decimal
	StockStatus  string
	RawHTML      string
	HTTPStatus   int
	ErrorCode    ErrorCode
	ErrorMessage string
	StartedAt    time.Time
	Duration     time.Duration
}
