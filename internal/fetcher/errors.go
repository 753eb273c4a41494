package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "TIMEOUT"
	KindNetwork     ErrorKind = "NETWORK"
	KindRateLimited ErrorKind = "RATE_LIMITED"
	KindBlocked     ErrorKind = "BLOCKED"
	KindHTTPError   ErrorKind = "HTTP_ERROR"
	KindUnknown     ErrorKind = "UNKNOWN"
	// KindCircuitOpen means no request was sent because the target's
	// circuit is open.
	KindCircuitOpen ErrorKind = "CIRCUIT_OPEN"
)

var (
	// ErrNoProxyAvailable is returned when a proxy is required and none is usable.
	ErrNoProxyAvailable = errors.New("no usable proxy available")
	// ErrInvalidURL is returned for URLs without a scheme or host.
	ErrInvalidURL = errors.New("invalid url")
	// ErrUnexpectedStatus wraps a non-success HTTP status.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// FetchError is the only error type Fetch returns.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Attempts   int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorCode maps the kind to the scrape failure vocabulary.
func (e *FetchError) ErrorCode() domain.ErrorCode {
	switch e.Kind {
	case KindTimeout:
		return domain.CodeTimeoutError
	case KindNetwork, KindCircuitOpen:
		return domain.CodeNetworkError
	case KindRateLimited:
		return domain.CodeRateLimited
	case KindBlocked:
		return domain.CodeBlockedByCaptcha
	case KindHTTPError:
		return domain.CodeHTTPError
	default:
		return domain.CodeUnknownError
	}
}

// ClassifyStatus maps an HTTP status to an error kind. ok is true for 2xx.
func ClassifyStatus(status int) (kind ErrorKind, retryable, ok bool) {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return "", false, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindBlocked, false, false
	case status == http.StatusTooManyRequests:
		return KindRateLimited, true, false
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return KindHTTPError, true, false
	default:
		// 404, 410 and every other status are permanent.
		return KindHTTPError, false, false
	}
}

// classifyTransportError maps an error from http.Client.Do.
func classifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &FetchError{Kind: KindUnknown, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &FetchError{Kind: KindTimeout, Retryable: true, Err: err}
		}
		return &FetchError{Kind: KindNetwork, Retryable: true, Err: err}
	}
	return &FetchError{Kind: KindUnknown, Err: err}
}

// countsAgainstTarget reports whether err should trip the target's breaker.
// Permanent 4xx answers prove the target is reachable.
func countsAgainstTarget(err *FetchError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case KindHTTPError:
		return err.StatusCode >= http.StatusInternalServerError
	case KindCircuitOpen:
		return false
	default:
		return true
	}
}

// proxyAtFault reports whether err reflects badly on the proxy used.
func proxyAtFault(err *FetchError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case KindTimeout, KindNetwork, KindBlocked, KindRateLimited, KindUnknown:
		return true
	default:
		return false
	}
}
