package extractor

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

// Phrase lists are checked in order: out-of-stock first so that
// "unavailable" is not read as "available".
var (
	outOfStockPhrases = []string{"out of stock", "unavailable", "out-of-stock", "sold out"}
	inStockPhrases    = []string{"in stock", "available", "in-stock", "ready"}
	limitedPhrases    = []string{"limited", "few left"}
)

// NormalizeStock maps free stock text to IN_STOCK, OUT_OF_STOCK or
// LIMITED_STOCK. Unrecognized text is returned unchanged.
func NormalizeStock(text string) string {
	lower := foldStockText(text)

	switch {
	case containsAny(lower, outOfStockPhrases):
		return domain.StockOutOfStock
	case containsAny(lower, inStockPhrases):
		return domain.StockInStock
	case containsAny(lower, limitedPhrases):
		return domain.StockLimitedStock
	default:
		return text
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// foldStockText lower-cases text, strips accents and compatibility forms
// (full-width letters, ligatures) and collapses whitespace, including
// non-breaking spaces, to single spaces.
func foldStockText(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
