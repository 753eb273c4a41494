package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

func TestRenderProxies_HidesCredentials(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderProxies(&buf, []domain.ProxyEndpoint{{
		ID:            7,
		Host:          "10.0.0.1",
		Port:          8080,
		Protocol:      domain.ProxyHTTP,
		Username:      "scraper",
		Password:      "hunter2",
		Active:        true,
		Healthy:       true,
		TotalRequests: 4,
		SuccessCount:  3,
	}})

	out := buf.String()
	assert.Contains(t, out, "10.0.0.1:8080")
	assert.Contains(t, out, "75.0%")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "scraper")
}

func TestRenderHistory_FixedPrecision(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderHistory(&buf, []domain.PriceHistoryEntry{{
		RecordedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SellerName:  "Acme",
		Price:       decimal.RequireFromString("19.9"),
		StockStatus: string(domain.StockInStock),
		SourceURL:   "https://acme.example/p/1",
	}})

	out := buf.String()
	assert.Contains(t, out, "19.90")
	assert.Contains(t, out, "2026-03-01T12:00:00Z")
	assert.Contains(t, out, "Acme")
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	want := []string{"worker", "processor", "alerts", "run", "migrate", "proxies", "enqueue", "history", "version"}
	for _, name := range want {
		sub, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	sub, _, err := rootCmd.Find([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, "run", sub.Name())
}
