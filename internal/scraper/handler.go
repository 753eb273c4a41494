// Package scraper turns scrape commands into price and result events by
// driving the fetch client and the extraction engine.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/extractor"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/fetcher"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/metrics"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
)

// ErrInvalidCommand marks a command missing a required field.
var ErrInvalidCommand = errors.New("invalid scrape command")

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error)
}

// Publisher appends an event to a stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, v any) (string, error)
}

// RunLogStore records scrape outcomes.
type RunLogStore interface {
	Insert(ctx context.Context, entry *domain.ScrapeRunLog) error
}

// Handler consumes ScrapeCommand messages.
type Handler struct {
	fetcher   Fetcher
	extractor *extractor.Extractor
	publisher Publisher
	runLogs   RunLogStore
	streams   queue.Streams
	log       logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewHandler creates a scrape handler. runLogs may be nil.
func NewHandler(
	f Fetcher,
	ex *extractor.Extractor,
	pub Publisher,
	runLogs RunLogStore,
	streams queue.Streams,
	log logger.Logger,
	m *metrics.Metrics,
) *Handler {
	streams.SetDefaults()
	return &Handler{
		fetcher:   f,
		extractor: ex,
		publisher: pub,
		runLogs:   runLogs,
		streams:   streams,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Handle implements queue.Handler. It returns nil once the outcome events
// are published, whatever the outcome was.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	cmd, err := queue.Decode[domain.ScrapeCommand](msg)
	if err != nil {
		return err
	}
	if validateErr := validate(&cmd); validateErr != nil {
		return fmt.Errorf("%w: %w", queue.ErrMalformed, validateErr)
	}

	outcome := h.Scrape(ctx, &cmd)

	if pubErr := h.publish(ctx, &cmd, outcome); pubErr != nil {
		return pubErr
	}

	h.recordRun(ctx, outcome)
	return nil
}

func validate(cmd *domain.ScrapeCommand) error {
	switch {
	case cmd.MappingID == "":
		return fmt.Errorf("%w: mappingId is required", ErrInvalidCommand)
	case cmd.ExactProductURL == "":
		return fmt.Errorf("%w: exactProductUrl is required", ErrInvalidCommand)
	case cmd.Selectors.Price == "":
		return fmt.Errorf("%w: priceSelector is required", ErrInvalidCommand)
	default:
		return nil
	}
}

// Scrape runs one command through fetch and extraction. It never fails;
// failures are reported in the outcome.
func (h *Handler) Scrape(ctx context.Context, cmd *domain.ScrapeCommand) *domain.ScrapeOutcome {
	out := &domain.ScrapeOutcome{
		MappingID: cmd.MappingID,
		Status:    domain.StatusReceived,
		StartedAt: h.now(),
	}
	log := logger.FromContextOr(ctx, h.log).With(
		logger.String("mapping_id", cmd.MappingID),
		logger.String("seller", cmd.SellerName),
	)

	h.transition(log, out, domain.StatusFetching)
	resp, err := h.fetcher.Fetch(ctx, fetcher.Request{
		URL:       cmd.ExactProductURL,
		Headers:   cmd.ScrapingProfile.Headers,
		UserAgent: cmd.ScrapingProfile.UserAgent,
	})
	if err != nil {
		h.fail(log, out, fetchErrorCode(err), err)
		var fe *fetcher.FetchError
		if errors.As(err, &fe) {
			out.HTTPStatus = fe.StatusCode
		}
		return h.finish(out)
	}
	out.HTTPStatus = resp.StatusCode
	out.RawHTML = domain.BoundRawHTML(resp.Body)

	h.transition(log, out, domain.StatusExtracting)
	res, err := h.extractor.Extract(string(resp.Body), cmd.Selectors)
	if err != nil {
		code := domain.CodeParsingError
		var pe *extractor.ParseError
		if errors.As(err, &pe) {
			code = pe.Code
		}
		h.fail(log, out, code, err)
		return h.finish(out)
	}
	if res.Price == nil {
		h.fail(log, out, domain.CodePriceNotFound,
			fmt.Errorf("no parseable price for selector %q (raw %q)", cmd.Selectors.Price, res.RawPrice))
		return h.finish(out)
	}
	if !domain.PriceInRange(*res.Price) {
		h.fail(log, out, domain.CodePriceNotFound,
			fmt.Errorf("price %s out of range for selector %q (raw %q)", res.Price, cmd.Selectors.Price, res.RawPrice))
		return h.finish(out)
	}

	out.Price = res.Price
	out.ProductName = res.Name
	out.SellerOnPage = res.SellerOnPage
	out.StockStatus = domain.StockUnknown
	if res.Stock != nil {
		out.StockStatus = domain.BoundStockStatus(*res.Stock)
	}
	out.Success = true
	h.transition(log, out, domain.StatusSucceeded)
	log.Info("Scrape succeeded",
		logger.String("price", out.Price.String()),
		logger.String("stock_status", out.StockStatus),
		logger.Int("http_status", out.HTTPStatus),
	)
	return h.finish(out)
}

func (h *Handler) transition(log logger.Logger, out *domain.ScrapeOutcome, to domain.ScrapeStatus) {
	log.Debug("Scrape state change",
		logger.String("from", string(out.Status)),
		logger.String("to", string(to)),
	)
	out.Status = to
}

func (h *Handler) fail(log logger.Logger, out *domain.ScrapeOutcome, code domain.ErrorCode, err error) {
	stage := out.Status
	out.Success = false
	out.ErrorCode = code
	out.ErrorMessage = err.Error()
	h.transition(log, out, domain.StatusFailed)
	log.Warn("Scrape failed",
		logger.String("stage", string(stage)),
		logger.String("error_code", string(code)),
		logger.Error(err),
	)
}

func (h *Handler) finish(out *domain.ScrapeOutcome) *domain.ScrapeOutcome {
	out.Duration = h.now().Sub(out.StartedAt)
	h.metrics.RecordScrape(string(out.Status), string(out.ErrorCode), out.Duration.Seconds())
	return out
}

func fetchErrorCode(err error) domain.ErrorCode {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		return fe.ErrorCode()
	}
	return domain.CodeUnknownError
}

// publish emits the raw price event for a success, then the result event.
func (h *Handler) publish(ctx context.Context, cmd *domain.ScrapeCommand, out *domain.ScrapeOutcome) error {
	scrapedAt := out.StartedAt.Add(out.Duration).UTC()

	if out.Success {
		raw := domain.RawPriceDataEvent{
			MappingID:          cmd.MappingID,
			CanonicalProductID: cmd.CanonicalProductID,
			SellerName:         cmd.SellerName,
			ScrapedPrice:       *out.Price,
			ScrapedStockStatus: out.StockStatus,
			SourceURL:          cmd.ExactProductURL,
			ScrapedProductName: out.ProductName,
			ScrapedAt:          scrapedAt,
		}
		if _, err := h.publisher.Publish(ctx, h.streams.RawPriceData, raw); err != nil {
			return fmt.Errorf("publish raw price data: %w", err)
		}
	}

	result := domain.ScrapingResultEvent{
		MappingID:     cmd.MappingID,
		WasSuccessful: out.Success,
		ErrorCode:     out.ErrorCode,
		ErrorMessage:  out.ErrorMessage,
		HTTPStatus:    out.HTTPStatus,
		ScrapedAt:     scrapedAt,
	}
	if _, err := h.publisher.Publish(ctx, h.streams.ScrapeResults, result); err != nil {
		return fmt.Errorf("publish scrape result: %w", err)
	}
	return nil
}

func (h *Handler) recordRun(ctx context.Context, out *domain.ScrapeOutcome) {
	if h.runLogs == nil {
		return
	}
	entry := domain.NewScrapeRunLog(out)
	if err := h.runLogs.Insert(ctx, &entry); err != nil {
		h.log.Warn("Failed to record scrape run",
			logger.String("mapping_id", out.MappingID),
			logger.Error(err),
		)
	}
}
