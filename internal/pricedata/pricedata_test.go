package pricedata_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/dedup"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/pricedata"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
)

type memoryHistory struct {
	entries []domain.PriceHistoryEntry
	err     error
}

func (m *memoryHistory) AppendWithMapping(_ context.Context, entry *domain.PriceHistoryEntry) error {
	if m.err != nil {
		return m.err
	}
	entry.ID = int64(len(m.entries) + 1)
	entry.Price = domain.RoundPrice(entry.Price)
	m.entries = append(m.entries, *entry)
	return nil
}

type memoryPublisher struct {
	points []domain.PricePointRecordedEvent
	err    error
}

func (p *memoryPublisher) Publish(_ context.Context, stream string, v any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if stream != queue.DefaultPricePointsStream {
		return "", errors.New("unexpected stream " + stream)
	}
	p.points = append(p.points, *v.(*domain.PricePointRecordedEvent))
	return "1-0", nil
}

func rawEvent() domain.RawPriceDataEvent {
	name := "Espresso Machine"
	return domain.RawPriceDataEvent{
		MappingID:          "map-1",
		CanonicalProductID: "prod-1",
		SellerName:         "Acme",
		ScrapedPrice:       decimal.RequireFromString("249.999"),
		ScrapedStockStatus: domain.StockInStock,
		SourceURL:          "https://acme.test/p/1",
		ScrapedProductName: &name,
		ScrapedAt:          time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func rawMessage(t *testing.T, id string, ev domain.RawPriceDataEvent) queue.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return queue.Message{Stream: queue.DefaultRawPriceStream, ID: id, Payload: b}
}

func TestProcessor_PersistsThenPublishes(t *testing.T) {
	t.Parallel()

	history := &memoryHistory{}
	pub := &memoryPublisher{}
	p := pricedata.NewProcessor(history, pub, nil, queue.Streams{}, logger.NewNop(), nil)

	require.NoError(t, p.Handle(context.Background(), rawMessage(t, "1-0", rawEvent())))

	require.Len(t, history.entries, 1)
	assert.Equal(t, "250.00", history.entries[0].Price.StringFixed(2))
	assert.Equal(t, domain.StockInStock, history.entries[0].StockStatus)

	require.Len(t, pub.points, 1)
	point := pub.points[0]
	assert.Equal(t, "prod-1", point.CanonicalProductID)
	assert.Equal(t, "Acme", point.SellerName)
	assert.Equal(t, "map-1", point.MappingID)
	assert.True(t, point.Price.Equal(decimal.NewFromInt(250)))
	assert.True(t, rawEvent().ScrapedAt.Equal(point.Timestamp))
}

func TestProcessor_InsertFailurePublishesNothing(t *testing.T) {
	t.Parallel()

	history := &memoryHistory{err: errors.New("connection reset")}
	pub := &memoryPublisher{}
	p := pricedata.NewProcessor(history, pub, nil, queue.Streams{}, logger.NewNop(), nil)

	err := p.Handle(context.Background(), rawMessage(t, "1-0", rawEvent()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrMalformed)
	assert.Empty(t, pub.points)
}

func TestProcessor_RejectsInvalidEvents(t *testing.T) {
	t.Parallel()

	p := pricedata.NewProcessor(&memoryHistory{}, &memoryPublisher{}, nil, queue.Streams{}, logger.NewNop(), nil)

	noSeller := rawEvent()
	noSeller.SellerName = ""
	negative := rawEvent()
	negative.ScrapedPrice = decimal.NewFromInt(-1)
	tooLarge := rawEvent()
	tooLarge.ScrapedPrice = decimal.RequireFromString("12345678901234")
	roundsOver := rawEvent()
	roundsOver.ScrapedPrice = decimal.RequireFromString("9999999999.999")

	for _, ev := range []domain.RawPriceDataEvent{noSeller, negative, tooLarge, roundsOver} {
		err := p.Handle(context.Background(), rawMessage(t, "1-0", ev))
		require.ErrorIs(t, err, queue.ErrMalformed)
		require.ErrorIs(t, err, pricedata.ErrInvalidEvent)
	}

	err := p.Handle(context.Background(), queue.Message{Payload: []byte("nope")})
	require.ErrorIs(t, err, queue.ErrMalformed)
}

func TestProcessor_EmptyStockDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	history := &memoryHistory{}
	p := pricedata.NewProcessor(history, &memoryPublisher{}, nil, queue.Streams{}, logger.NewNop(), nil)

	ev := rawEvent()
	ev.ScrapedStockStatus = ""
	_, err := p.Process(context.Background(), &ev)
	require.NoError(t, err)
	assert.Equal(t, domain.StockUnknown, history.entries[0].StockStatus)
}

func TestProcessor_KeepsFreeTextStock(t *testing.T) {
	t.Parallel()

	history := &memoryHistory{}
	p := pricedata.NewProcessor(history, &memoryPublisher{}, nil, queue.Streams{}, logger.NewNop(), nil)

	ev := rawEvent()
	ev.ScrapedStockStatus = "Usually dispatched within 24 hours"
	_, err := p.Process(context.Background(), &ev)
	require.NoError(t, err)
	assert.Equal(t, "Usually dispatched within 24 hours", history.entries[0].StockStatus)

	ev.ScrapedStockStatus = strings.Repeat("x", domain.MaxStockStatusLen+40)
	_, err = p.Process(context.Background(), &ev)
	require.NoError(t, err)
	assert.Len(t, history.entries[1].StockStatus, domain.MaxStockStatusLen)
}

func TestProcessor_SkipsRedeliveredMessage(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	history := &memoryHistory{}
	pub := &memoryPublisher{}
	tracker := dedup.NewTracker(client, time.Hour, logger.NewNop())
	p := pricedata.NewProcessor(history, pub, tracker, queue.Streams{}, logger.NewNop(), nil)

	msg := rawMessage(t, "5-0", rawEvent())
	require.NoError(t, p.Handle(context.Background(), msg))
	require.NoError(t, p.Handle(context.Background(), msg))

	assert.Len(t, history.entries, 1)
	assert.Len(t, pub.points, 1)
}

func TestProcessor_PublishFailureIsNotMarked(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tracker := dedup.NewTracker(client, time.Hour, logger.NewNop())
	pub := &memoryPublisher{err: errors.New("stream down")}
	p := pricedata.NewProcessor(&memoryHistory{}, pub, tracker, queue.Streams{}, logger.NewNop(), nil)

	msg := rawMessage(t, "6-0", rawEvent())
	require.Error(t, p.Handle(context.Background(), msg))
	assert.False(t, tracker.Seen(context.Background(), msg.Stream, msg.ID))
}

type memoryMappings struct {
	events []domain.ScrapingResultEvent
	err    error
}

func (m *memoryMappings) RecordScrapeResult(_ context.Context, ev *domain.ScrapingResultEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *ev)
	return nil
}

func TestResultHandler(t *testing.T) {
	t.Parallel()

	resultMessage := func(ev domain.ScrapingResultEvent) queue.Message {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		return queue.Message{Stream: queue.DefaultScrapeResultsStream, ID: "1-0", Payload: b}
	}

	t.Run("records failure", func(t *testing.T) {
		t.Parallel()

		store := &memoryMappings{}
		h := pricedata.NewResultHandler(store, logger.NewNop())

		err := h.Handle(context.Background(), resultMessage(domain.ScrapingResultEvent{
			MappingID: "map-1",
			ErrorCode: domain.CodeRateLimited,
		}))
		require.NoError(t, err)
		require.Len(t, store.events, 1)
		assert.False(t, store.events[0].WasSuccessful)
		assert.False(t, store.events[0].ScrapedAt.IsZero())
	})

	t.Run("unknown mapping is acked", func(t *testing.T) {
		t.Parallel()

		store := &memoryMappings{err: database.ErrMappingNotFound}
		h := pricedata.NewResultHandler(store, logger.NewNop())

		require.NoError(t, h.Handle(context.Background(), resultMessage(domain.ScrapingResultEvent{MappingID: "gone"})))
	})

	t.Run("database error is retried", func(t *testing.T) {
		t.Parallel()

		store := &memoryMappings{err: errors.New("connection refused")}
		h := pricedata.NewResultHandler(store, logger.NewNop())

		require.Error(t, h.Handle(context.Background(), resultMessage(domain.ScrapingResultEvent{MappingID: "map-1"})))
	})

	t.Run("missing mapping id is malformed", func(t *testing.T) {
		t.Parallel()

		h := pricedata.NewResultHandler(&memoryMappings{}, logger.NewNop())
		err := h.Handle(context.Background(), resultMessage(domain.ScrapingResultEvent{}))
		require.ErrorIs(t, err, queue.ErrMalformed)
	})
}
