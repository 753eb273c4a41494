package extractor_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/extractor"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"$1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"999", "999"},
		{"€ 12,5", "12.5"},
		{"12,50 zł", "12.5"},
		{"1,234", "1234"},
		{"1,234,567", "1234567"},
		{"1.234.567", "1234567"},
		{"USD 49.99", "49.99"},
		{"  Price: 7.00 ", "7"},
		{"₹1,23,456.78", "123456.78"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := extractor.ParsePrice(tt.in)
			require.True(t, ok)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParsePrice_Unparseable(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "Call for price", "...", "1,2,3"} {
		_, ok := extractor.ParsePrice(in)
		assert.False(t, ok, in)
	}
}
