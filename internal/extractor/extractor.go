// Package extractor pulls product name, price and stock status out of
// seller pages using per-mapping CSS selectors.
package extractor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

// ErrEmptyHTML is wrapped by the ParseError returned for an empty document.
var ErrEmptyHTML = errors.New("html is empty")

// ParseError is returned when a document cannot be processed at all.
type ParseError struct {
	Code domain.ErrorCode
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result holds the extracted fields. A nil field was not found.
type Result struct {
	Name         *string
	Price        *decimal.Decimal
	RawPrice     string
	Stock        *string
	SellerOnPage *string
}

// priceAttributes are read when the price element has no text, which
// covers microdata such as <meta itemprop="price" content="19.99">.
var priceAttributes = []string{"content", "data-price", "value"}

// Extractor applies selectors to HTML documents.
type Extractor struct {
	log logger.Logger
}

// New creates an extractor.
func New(log logger.Logger) *Extractor {
	return &Extractor{log: log}
}

// Extract parses html and applies sel. A missing field is not an error;
// only an empty or unparseable document is.
func (e *Extractor) Extract(html string, sel domain.Selectors) (*Result, error) {
	if strings.TrimSpace(html) == "" {
		return nil, &ParseError{Code: domain.CodeParsingError, Err: ErrEmptyHTML}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &ParseError{Code: domain.CodeParsingError, Err: fmt.Errorf("parse html: %w", err)}
	}

	res := &Result{
		Name:         e.text(doc, "name", sel.ProductName),
		Stock:        e.stock(doc, sel.Stock),
		SellerOnPage: e.text(doc, "seller", sel.SellerNameOnPage),
	}

	raw := e.text(doc, "price", sel.Price, priceAttributes...)
	if raw != nil {
		res.RawPrice = *raw
		if price, ok := ParsePrice(*raw); ok {
			res.Price = &price
		} else {
			e.log.Debug("Price text not parseable", logger.String("raw_price", *raw))
		}
	}

	return res, nil
}

func (e *Extractor) stock(doc *goquery.Document, selector string) *string {
	raw := e.text(doc, "stock", selector)
	if raw == nil {
		return nil
	}
	normalized := NormalizeStock(*raw)
	return &normalized
}

// text returns the collapsed text of the first match, falling back to the
// given attributes when the element has no text.
func (e *Extractor) text(doc *goquery.Document, field, selector string, attrs ...string) *string {
	if strings.TrimSpace(selector) == "" {
		return nil
	}

	node := doc.Find(selector).First()
	if node.Length() == 0 {
		e.log.Debug("Selector matched nothing",
			logger.String("field", field),
			logger.String("selector", selector),
		)
		return nil
	}

	value := collapseSpace(node.Text())
	for _, attr := range attrs {
		if value != "" {
			break
		}
		if v, ok := node.Attr(attr); ok {
			value = collapseSpace(v)
		}
	}
	if value == "" {
		return nil
	}
	return &value
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
