package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/retry"
)

// Webhook defaults.
const (
	DefaultWebhookTimeout     = 10 * time.Second
	DefaultWebhookMaxAttempts = 3
	DefaultWebhookBackoff     = 500 * time.Millisecond
	maxErrorBodyBytes         = 512
)

var errWebhookStatus = errors.New("webhook returned error status")

// WebhookConfig configures the webhook dispatcher.
type WebhookConfig struct {
	URL         string            `env:"ALERT_WEBHOOK_URL"          yaml:"url"`
	Timeout     time.Duration     `env:"ALERT_WEBHOOK_TIMEOUT"      yaml:"timeout"`
	MaxAttempts int               `env:"ALERT_WEBHOOK_MAX_ATTEMPTS" yaml:"max_attempts"`
	Backoff     time.Duration     `env:"ALERT_WEBHOOK_BACKOFF"      yaml:"backoff"`
	Headers     map[string]string `yaml:"headers"`
}

// SetDefaults fills zero values.
func (c *WebhookConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultWebhookTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultWebhookMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultWebhookBackoff
	}
}

// WebhookDispatcher POSTs each alert as JSON, retrying server errors.
type WebhookDispatcher struct {
	cfg    WebhookConfig
	client *http.Client
	log    logger.Logger
}

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(cfg WebhookConfig, log logger.Logger) *WebhookDispatcher {
	cfg.SetDefaults()
	return &WebhookDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// webhookError carries whether a failed delivery may be retried.
type webhookError struct {
	status    int
	retryable bool
	err       error
}

func (e *webhookError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("webhook status %d: %v", e.status, e.err)
	}
	return e.err.Error()
}

func (e *webhookError) Unwrap() error { return e.err }

// Dispatch implements Dispatcher.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, alert *domain.TriggeredAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return retry.Do(ctx, retry.Config{
		MaxAttempts: d.cfg.MaxAttempts,
		Backoff:     retry.Exponential(d.cfg.Backoff, 2),
		IsRetryable: func(err error) bool {
			var we *webhookError
			return errors.As(err, &we) && we.retryable
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.FromContextOr(ctx, d.log).Warn("Retrying alert webhook",
				logger.String("rule_id", alert.RuleID),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err),
			)
		},
	}, func(int) error {
		return d.post(ctx, body)
	})
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &webhookError{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &webhookError{retryable: ctx.Err() == nil, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &webhookError{
		status:    resp.StatusCode,
		retryable: resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
		err:       fmt.Errorf("%w: %s", errWebhookStatus, bytes.TrimSpace(snippet)),
	}
}
