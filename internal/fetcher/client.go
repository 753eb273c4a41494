// Package fetcher retrieves seller pages through the proxy pool with a
// per-attempt timeout, retries with backoff and a per-host circuit breaker.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/metrics"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/proxypool"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/retry"
)

// ProxySelector picks proxies and receives attempt outcomes.
type ProxySelector interface {
	Select(targetHost string) (*proxypool.Endpoint, bool)
	RecordOutcome(ep *proxypool.Endpoint, success bool, errorKind string)
}

// Request describes one page fetch.
type Request struct {
	URL       string
	Headers   map[string]string
	UserAgent string
}

// Response is a successfully fetched page.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
	Attempts   int
	Proxy      string
}

// Client is the resilient fetch client.
type Client struct {
	cfg      Config
	proxies  ProxySelector
	breakers *circuitbreaker.Registry
	base     *http.Transport
	direct   *http.Client
	log      logger.Logger
	metrics  *metrics.Metrics

	// limiters holds one *rate.Limiter per target host.
	limiters sync.Map

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetch client. proxies may be nil for direct connections only.
func New(
	cfg Config,
	proxies ProxySelector,
	breakers *circuitbreaker.Registry,
	log logger.Logger,
	m *metrics.Metrics,
) *Client {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{})
	}

	base := NewBaseTransport(cfg)
	return &Client{
		cfg:      cfg,
		proxies:  proxies,
		breakers: breakers,
		base:     base,
		direct:   &http.Client{Transport: base},
		log:      log,
		metrics:  m,
		sleep:    sleepContext,
	}
}

// NewBaseTransport builds the transport every proxied transport is cloned from.
func NewBaseTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		t.IdleConnTimeout = cfg.IdleConnTimeout
	}
	if cfg.TLSHandshakeTimeout > 0 {
		t.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
	}
	return t
}

// BaseTransport exposes the shared transport for proxy health probes.
func (c *Client) BaseTransport() *http.Transport {
	return c.base
}

// Fetch retrieves req.URL. Every error returned is a *FetchError.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, &FetchError{Kind: KindUnknown, Err: fmt.Errorf("%w: %q", ErrInvalidURL, req.URL)}
	}
	host := target.Hostname()

	if delayErr := c.sleep(ctx, c.preRequestDelay()); delayErr != nil {
		return nil, classifyTransportError(delayErr)
	}

	breaker := c.breakers.Get(host)
	log := c.log.With(logger.String("target_host", host))

	var (
		resp     *Response
		attempts int
	)
	retryErr := retry.Do(ctx, retry.Config{
		MaxAttempts: c.cfg.retries() + 1,
		Backoff:     retry.Linear(c.cfg.BaseDelay),
		MaxDelay:    c.cfg.MaxDelay,
		IsRetryable: isRetryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Debug("Retrying fetch",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err),
			)
		},
	}, func(attempt int) error {
		attempts = attempt
		r, attemptErr := c.attempt(ctx, host, breaker, req, attempt)
		if attemptErr != nil {
			return attemptErr
		}
		resp = r
		return nil
	})

	if retryErr == nil {
		resp.Attempts = attempts
		c.metrics.ObserveFetch("success", time.Since(start).Seconds())
		return resp, nil
	}

	fetchErr := asFetchError(retryErr)
	fetchErr.Attempts = attempts
	c.metrics.ObserveFetch(string(fetchErr.Kind), time.Since(start).Seconds())
	log.Warn("Fetch failed",
		logger.String("url", req.URL),
		logger.String("error_kind", string(fetchErr.Kind)),
		logger.Int("status_code", fetchErr.StatusCode),
		logger.Int("attempts", attempts),
		logger.Error(fetchErr.Err),
	)
	return nil, fetchErr
}

// attempt performs a single request. It always returns a *FetchError on failure.
func (c *Client) attempt(
	ctx context.Context,
	host string,
	breaker *circuitbreaker.Breaker,
	req Request,
	attempt int,
) (*Response, error) {
	if waitErr := c.waitForHost(ctx, host); waitErr != nil {
		return nil, waitErr
	}

	client, ep, err := c.clientFor(host)
	if err != nil {
		c.metrics.RecordFetchAttempt(host, string(KindNetwork))
		return nil, &FetchError{Kind: KindNetwork, Err: err}
	}

	if allowErr := breaker.Allow(); allowErr != nil {
		c.metrics.RecordFetchAttempt(host, string(KindCircuitOpen))
		return nil, &FetchError{Kind: KindCircuitOpen, Err: allowErr}
	}

	timeout := c.cfg.AttemptTimeout
	proxyKey := ""
	if ep != nil {
		snap := ep.Snapshot()
		proxyKey = snap.Key()
		if override := snap.AttemptTimeout(); override > 0 {
			timeout = override
		}
	}

	resp, fetchErr := c.do(ctx, client, req, timeout)

	// A proxy's own failures say nothing about the seller, so they must not
	// open the seller's circuit for every worker.
	if ep != nil && proxyAtFault(fetchErr) {
		breaker.Release()
	} else {
		breaker.Record(!countsAgainstTarget(fetchErr))
	}
	if ep != nil {
		kind := ""
		if fetchErr != nil {
			kind = string(fetchErr.Kind)
			if capped := ep.Snapshot().MaxRetries; capped > 0 && attempt > capped {
				fetchErr.Retryable = false
			}
		}
		c.proxies.RecordOutcome(ep, !proxyAtFault(fetchErr), kind)
	}

	if fetchErr != nil {
		c.metrics.RecordFetchAttempt(host, string(fetchErr.Kind))
		return nil, fetchErr
	}
	c.metrics.RecordFetchAttempt(host, "success")

	resp.Proxy = proxyKey
	return resp, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, req Request, timeout time.Duration) (*Response, *FetchError) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, &FetchError{Kind: KindUnknown, Err: fmt.Errorf("build request: %w", err)}
	}
	c.applyHeaders(httpReq, req)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	kind, retryable, ok := ClassifyStatus(httpResp.StatusCode)
	if !ok {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, c.cfg.MaxBodyBytes))
		return nil, &FetchError{
			Kind:       kind,
			StatusCode: httpResp.StatusCode,
			Retryable:  retryable,
			Err:        fmt.Errorf("%w: %d", ErrUnexpectedStatus, httpResp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		fetchErr := classifyTransportError(err)
		fetchErr.StatusCode = httpResp.StatusCode
		return nil, fetchErr
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		FinalURL:   httpResp.Request.URL.String(),
	}, nil
}

func (c *Client) applyHeaders(httpReq *http.Request, req Request) {
	ua := req.UserAgent
	if ua == "" {
		ua = c.cfg.UserAgent
	}
	if ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
}

// clientFor returns the HTTP client for the next attempt and the proxy it
// routes through, if any.
func (c *Client) clientFor(host string) (*http.Client, *proxypool.Endpoint, error) {
	if c.proxies == nil {
		if c.cfg.RequireProxy {
			return nil, nil, ErrNoProxyAvailable
		}
		return c.direct, nil, nil
	}

	ep, ok := c.proxies.Select(host)
	if !ok {
		if c.cfg.RequireProxy {
			return nil, nil, ErrNoProxyAvailable
		}
		return c.direct, nil, nil
	}

	transport, err := ep.Transport(c.base)
	if err != nil {
		return nil, nil, fmt.Errorf("proxy %s: %w", ep.Key(), err)
	}
	return &http.Client{Transport: transport}, ep, nil
}

func (c *Client) preRequestDelay() time.Duration {
	lo, hi := c.cfg.PreRequestDelayMin, c.cfg.PreRequestDelayMax
	if hi <= 0 {
		return 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}

func isRetryable(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable
	}
	return false
}

// asFetchError extracts the last attempt's error from a retry result.
func asFetchError(err error) *FetchError {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	return &FetchError{Kind: KindUnknown, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitForHost blocks until the host's rate limit admits another attempt.
func (c *Client) waitForHost(ctx context.Context, host string) *FetchError {
	if c.cfg.HostRateLimit <= 0 {
		return nil
	}
	burst := max(c.cfg.HostBurst, 1)
	v, _ := c.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.HostRateLimit), burst))
	limiter, _ := v.(*rate.Limiter)
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classifyTransportError(ctxErr)
		}
		// The next token arrives after the caller's deadline.
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	return nil
}
