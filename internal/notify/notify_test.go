package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/notify"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/retry"
)

func sampleAlert() *domain.TriggeredAlert {
	return &domain.TriggeredAlert{
		RuleID:             "rule-1",
		UserID:             "user-1",
		CanonicalProductID: "prod-1",
		SellerName:         "Acme",
		MappingID:          "map-1",
		Condition:          domain.ConditionPriceBelow,
		Price:              decimal.RequireFromString("49.90"),
		StockStatus:        domain.StockInStock,
		Description:        "price at or below 50.00",
		TriggeredAt:        time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func webhookConfig(url string) notify.WebhookConfig {
	return notify.WebhookConfig{
		URL:         url,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Headers:     map[string]string{"Authorization": "Bearer token"},
	}
}

func TestWebhookDispatcher_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var got domain.TriggeredAlert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "rule-1", got.RuleID)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	d := notify.NewWebhookDispatcher(webhookConfig(srv.URL), logger.NewNop())
	require.NoError(t, d.Dispatch(context.Background(), sampleAlert()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookDispatcher_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	d := notify.NewWebhookDispatcher(webhookConfig(srv.URL), logger.NewNop())
	err := d.Dispatch(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
	assert.Equal(t, int32(1), hits.Load())
}

func TestWebhookDispatcher_GivesUp(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	d := notify.NewWebhookDispatcher(webhookConfig(srv.URL), logger.NewNop())
	err := d.Dispatch(context.Background(), sampleAlert())
	require.ErrorIs(t, err, retry.ErrMaxAttemptsExceeded)
}

func TestStreamDispatcher(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub := queue.NewPublisher(client, 0, logger.NewNop())
	d := notify.NewStreamDispatcher(pub, queue.DefaultAlertsStream)

	require.NoError(t, d.Dispatch(context.Background(), sampleAlert()))

	entries, err := client.XRange(context.Background(), queue.DefaultAlertsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var got domain.TriggeredAlert
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values[queue.FieldPayload].(string)), &got))
	assert.Equal(t, "49.9", got.Price.String())
	assert.Equal(t, domain.ConditionPriceBelow, got.Condition)
}

type countingDispatcher struct {
	calls atomic.Int32
	err   error
}

func (c *countingDispatcher) Dispatch(context.Context, *domain.TriggeredAlert) error {
	c.calls.Add(1)
	return c.err
}

func TestMultiDispatcher_TriesAll(t *testing.T) {
	t.Parallel()

	failing := &countingDispatcher{err: errors.New("smtp down")}
	ok := &countingDispatcher{}
	multi := notify.MultiDispatcher{failing, ok, notify.NewLogDispatcher(logger.NewNop())}

	err := multi.Dispatch(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), ok.calls.Load())
}
