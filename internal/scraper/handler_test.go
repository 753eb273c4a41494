package scraper_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/extractor"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/fetcher"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/scraper"
)

const productPage = `<html><body>
	<h1 class="title">Espresso Machine</h1>
	<span class="price">1.234,56 €</span>
	<div class="stock">In stock</div>
</body></html>`

type stubFetcher struct {
	resp *fetcher.Response
	err  error
	reqs []fetcher.Request
}

func (f *stubFetcher) Fetch(_ context.Context, req fetcher.Request) (*fetcher.Response, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type published struct {
	stream string
	body   []byte
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	failOn   string
}

func (p *recordingPublisher) Publish(_ context.Context, stream string, v any) (string, error) {
	if stream == p.failOn {
		return "", errors.New("redis unavailable")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{stream: stream, body: b})
	return "1-0", nil
}

func (p *recordingPublisher) streams() []string {
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.stream)
	}
	return out
}

type recordingRunLogs struct {
	entries []domain.ScrapeRunLog
}

func (r *recordingRunLogs) Insert(_ context.Context, entry *domain.ScrapeRunLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func command() domain.ScrapeCommand {
	return domain.ScrapeCommand{
		MappingID:          "map-1",
		CanonicalProductID: "prod-1",
		SellerName:         "Acme",
		ExactProductURL:    "https://acme.test/p/1",
		Selectors: domain.Selectors{
			ProductName: "h1.title",
			Price:       ".price",
			Stock:       ".stock",
		},
		ScrapingProfile: domain.ScrapingProfile{
			UserAgent: "PriceBot/1.0",
			Headers:   map[string]string{"Accept-Language": "de"},
		},
	}
}

func message(t *testing.T, v any) queue.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return queue.Message{Stream: queue.DefaultScrapeCommandsStream, ID: "1-0", Payload: b}
}

func newHandler(f scraper.Fetcher, pub scraper.Publisher, runs scraper.RunLogStore) *scraper.Handler {
	log := logger.NewNop()
	return scraper.NewHandler(f, extractor.New(log), pub, runs, queue.Streams{}, log, nil)
}

func TestHandle_SuccessPublishesRawThenResult(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Body: []byte(productPage)}}
	pub := &recordingPublisher{}
	runs := &recordingRunLogs{}
	h := newHandler(f, pub, runs)

	require.NoError(t, h.Handle(context.Background(), message(t, command())))

	require.Equal(t, []string{queue.DefaultRawPriceStream, queue.DefaultScrapeResultsStream}, pub.streams())

	var raw domain.RawPriceDataEvent
	require.NoError(t, json.Unmarshal(pub.messages[0].body, &raw))
	assert.Equal(t, "map-1", raw.MappingID)
	assert.Equal(t, "prod-1", raw.CanonicalProductID)
	assert.Equal(t, "1234.56", raw.ScrapedPrice.StringFixed(2))
	assert.Equal(t, domain.StockInStock, raw.ScrapedStockStatus)
	require.NotNil(t, raw.ScrapedProductName)
	assert.Equal(t, "Espresso Machine", *raw.ScrapedProductName)

	var result domain.ScrapingResultEvent
	require.NoError(t, json.Unmarshal(pub.messages[1].body, &result))
	assert.True(t, result.WasSuccessful)
	assert.Empty(t, result.ErrorCode)

	require.Len(t, f.reqs, 1)
	assert.Equal(t, "PriceBot/1.0", f.reqs[0].UserAgent)
	assert.Equal(t, "de", f.reqs[0].Headers["Accept-Language"])

	require.Len(t, runs.entries, 1)
	assert.Equal(t, domain.StatusSucceeded, runs.entries[0].Status)
}

func TestHandle_MissingStockBecomesUnknown(t *testing.T) {
	t.Parallel()

	page := `<html><body><span class="price">$19.99</span></body></html>`
	f := &stubFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Body: []byte(page)}}
	pub := &recordingPublisher{}
	h := newHandler(f, pub, nil)

	require.NoError(t, h.Handle(context.Background(), message(t, command())))

	var raw domain.RawPriceDataEvent
	require.NoError(t, json.Unmarshal(pub.messages[0].body, &raw))
	assert.Equal(t, domain.StockUnknown, raw.ScrapedStockStatus)
	assert.Nil(t, raw.ScrapedProductName)
}

func TestHandle_FreeTextStockPassesThrough(t *testing.T) {
	t.Parallel()

	page := `<html><body><span class="price">$19.99</span>
		<div class="stock">Usually dispatched within 24 hours</div></body></html>`
	f := &stubFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Body: []byte(page)}}
	pub := &recordingPublisher{}
	h := newHandler(f, pub, nil)

	require.NoError(t, h.Handle(context.Background(), message(t, command())))

	var raw domain.RawPriceDataEvent
	require.NoError(t, json.Unmarshal(pub.messages[0].body, &raw))
	assert.Equal(t, "Usually dispatched within 24 hours", raw.ScrapedStockStatus)
}

func TestHandle_OutOfRangePriceFails(t *testing.T) {
	t.Parallel()

	page := `<html><body><span class="price">SKU 400012345678901</span></body></html>`
	f := &stubFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Body: []byte(page)}}
	pub := &recordingPublisher{}
	h := newHandler(f, pub, nil)

	cmd := command()
	out := h.Scrape(context.Background(), &cmd)

	assert.False(t, out.Success)
	assert.Equal(t, domain.CodePriceNotFound, out.ErrorCode)
}

func TestHandle_FailuresPublishOnlyResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fetcher  *stubFetcher
		wantCode domain.ErrorCode
	}{
		{
			name:     "timeout",
			fetcher:  &stubFetcher{err: &fetcher.FetchError{Kind: fetcher.KindTimeout}},
			wantCode: domain.CodeTimeoutError,
		},
		{
			name:     "blocked",
			fetcher:  &stubFetcher{err: &fetcher.FetchError{Kind: fetcher.KindBlocked, StatusCode: http.StatusForbidden}},
			wantCode: domain.CodeBlockedByCaptcha,
		},
		{
			name:     "circuit open",
			fetcher:  &stubFetcher{err: &fetcher.FetchError{Kind: fetcher.KindCircuitOpen}},
			wantCode: domain.CodeNetworkError,
		},
		{
			name:     "not found",
			fetcher:  &stubFetcher{err: &fetcher.FetchError{Kind: fetcher.KindHTTPError, StatusCode: http.StatusNotFound}},
			wantCode: domain.CodeHTTPError,
		},
		{
			name:     "empty body",
			fetcher:  &stubFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Body: []byte("  ")}},
			wantCode: domain.CodeParsingError,
		},
		{
			name: "price missing",
			fetcher: &stubFetcher{resp: &fetcher.Response{
				StatusCode: http.StatusOK,
				Body:       []byte(`<html><body><h1 class="title">X</h1></body></html>`),
			}},
			wantCode: domain.CodePriceNotFound,
		},
		{
			name: "price unparseable",
			fetcher: &stubFetcher{resp: &fetcher.Response{
				StatusCode: http.StatusOK,
				Body:       []byte(`<html><body><span class="price">call us</span></body></html>`),
			}},
			wantCode: domain.CodePriceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pub := &recordingPublisher{}
			h := newHandler(tt.fetcher, pub, nil)

			require.NoError(t, h.Handle(context.Background(), message(t, command())))

			require.Equal(t, []string{queue.DefaultScrapeResultsStream}, pub.streams())
			var result domain.ScrapingResultEvent
			require.NoError(t, json.Unmarshal(pub.messages[0].body, &result))
			assert.False(t, result.WasSuccessful)
			assert.Equal(t, tt.wantCode, result.ErrorCode)
			assert.NotEmpty(t, result.ErrorMessage)
		})
	}
}

func TestHandle_MalformedPayload(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	h := newHandler(&stubFetcher{}, pub, nil)

	err := h.Handle(context.Background(), queue.Message{Payload: []byte("{")})
	require.ErrorIs(t, err, queue.ErrMalformed)

	cmd := command()
	cmd.Selectors.Price = ""
	err = h.Handle(context.Background(), message(t, cmd))
	require.ErrorIs(t, err, queue.ErrMalformed)
	require.ErrorIs(t, err, scraper.ErrInvalidCommand)

	assert.Empty(t, pub.messages)
}

func TestHandle_PublishFailureIsReturned(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Body: []byte(productPage)}}
	pub := &recordingPublisher{failOn: queue.DefaultRawPriceStream}
	runs := &recordingRunLogs{}
	h := newHandler(f, pub, runs)

	err := h.Handle(context.Background(), message(t, command()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrMalformed)
	assert.Empty(t, pub.messages)
	assert.Empty(t, runs.entries)
}

func TestScrape_OutcomeStates(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{err: &fetcher.FetchError{Kind: fetcher.KindRateLimited, StatusCode: http.StatusTooManyRequests}}
	h := newHandler(f, &recordingPublisher{}, nil)

	cmd := command()
	out := h.Scrape(context.Background(), &cmd)

	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.False(t, out.Success)
	assert.Equal(t, domain.CodeRateLimited, out.ErrorCode)
	assert.Equal(t, http.StatusTooManyRequests, out.HTTPStatus)
	assert.Nil(t, out.Price)
}
