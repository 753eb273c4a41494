package extractor

import (
	"strings"

	"github.com/shopspring/decimal"
)

// maxDecimalDigits is the longest run after a lone comma still read as
// a fractional part ("12,5", "12,50").
const maxDecimalDigits = 2

// ParsePrice reads a price from free text such as "$1,234.56", "1.234,56 €"
// or "999". Only digits, commas and dots are kept. When both separators
// appear the last one is the decimal point. A lone comma is decimal when
// at most two digits follow the last comma, otherwise commas are dropped.
// Several dots with no comma are thousands separators.
func ParsePrice(text string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Decimal{}, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if len(cleaned)-lastComma-1 <= maxDecimalDigits {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return price, true
}
