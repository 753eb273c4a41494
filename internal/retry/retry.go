// Package retry runs an operation repeatedly with backoff until it
// succeeds, fails with a non-retryable error, or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when max retry attempts are exceeded.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Backoff returns the delay to wait after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// Linear waits base × attempt.
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Exponential waits base × multiplier^(attempt-1).
func Exponential(base time.Duration, multiplier float64) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
	}
}

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// Backoff computes the wait between attempts.
	Backoff Backoff
	// MaxDelay caps any single backoff wait. Zero means uncapped.
	MaxDelay time.Duration
	// IsRetryable determines if an error should be retried.
	IsRetryable func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     Exponential(100*time.Millisecond, 2.0),
		MaxDelay:    30 * time.Second,
		IsRetryable: DefaultIsRetryable,
	}
}

var retryablePatterns = []string{
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"no such host",
	"temporary failure",
	"network is unreachable",
	"eof",
}

// DefaultIsRetryable matches common transient network error messages.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Do calls fn until it succeeds or a stop condition is reached. fn receives
// the 1-based attempt number. A non-retryable error is returned unwrapped.
func Do(ctx context.Context, config Config, fn func(attempt int) error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Backoff == nil {
		config.Backoff = DefaultConfig().Backoff
	}
	if config.IsRetryable == nil {
		config.IsRetryable = DefaultIsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return contextError(ctx, lastErr)
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !config.IsRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := config.Backoff(attempt)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return contextError(ctx, lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, config.MaxAttempts, lastErr)
}

func contextError(ctx context.Context, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	}
	return fmt.Errorf("%w: %w: %w", ErrContextCancelled, ctx.Err(), lastErr)
}
