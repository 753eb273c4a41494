package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ProxyProtocol is the protocol spoken by a proxy endpoint.
type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "HTTP"
	ProxyHTTPS  ProxyProtocol = "HTTPS"
	ProxySOCKS4 ProxyProtocol = "SOCKS4"
	ProxySOCKS5 ProxyProtocol = "SOCKS5"
)

// ParseProxyProtocol converts a stored protocol name to a ProxyProtocol.
func ParseProxyProtocol(s string) (ProxyProtocol, error) {
	switch p := ProxyProtocol(strings.ToUpper(strings.TrimSpace(s))); p {
	case ProxyHTTP, ProxyHTTPS, ProxySOCKS4, ProxySOCKS5:
		return p, nil
	default:
		return "", fmt.Errorf("unknown proxy protocol %q", s)
	}
}

// Scan implements sql.Scanner, normalizing the stored name.
func (p *ProxyProtocol) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scan proxy protocol: unsupported type %T", src)
	}
	parsed, err := ParseProxyProtocol(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Scheme returns the URL scheme used to address the proxy.
func (p ProxyProtocol) Scheme() string {
	return strings.ToLower(string(p))
}

// ProxyEndpoint is a snapshot of one proxy in the pool.
type ProxyEndpoint struct {
	ID       int64         `db:"id"`
	Host     string        `db:"host"`
	Port     int           `db:"port"`
	Protocol ProxyProtocol `db:"protocol"`
	Username string        `db:"username"`
	Password string        `db:"password"`

	Active  bool `db:"is_active"`
	Healthy bool `db:"is_healthy"`

	TotalRequests    int64 `db:"total_requests"`
	SuccessCount     int64 `db:"success_count"`
	FailureCount     int64 `db:"failure_count"`
	ConsecutiveFails int   `db:"consecutive_failures"`

	// TimeoutMS and MaxRetries override the fetch client defaults when non-zero.
	TimeoutMS  int `db:"timeout_ms"`
	MaxRetries int `db:"max_retries"`

	LastUsedAt    *time.Time `db:"last_used_at"`
	LastCheckedAt *time.Time `db:"last_checked_at"`
	LastErrorKind string     `db:"last_error_kind"`
}

// Address returns host:port.
func (p *ProxyEndpoint) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Key identifies the endpoint in logs and metric labels without credentials.
func (p *ProxyEndpoint) Key() string {
	return p.Protocol.Scheme() + "://" + p.Address()
}

// AttemptTimeout returns the per-attempt timeout override, or zero.
func (p *ProxyEndpoint) AttemptTimeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// SuccessRate is the share of successful requests, 0 when unused.
func (p *ProxyEndpoint) SuccessRate() float64 {
	if p.TotalRequests == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.TotalRequests)
}

// ProxyStatsDelta is the activity one process has observed on an endpoint
// since its last flush. Several worker processes share a proxies row, so
// counters are written as increments. Healthy is nil unless this process
// changed health; only a probe ever sets it to true.
type ProxyStatsDelta struct {
	ID        int64
	Requests  int64
	Successes int64
	Failures  int64
	// ConsecutiveFails counts failures since the last success seen here.
	// ResetConsecutive means such a success happened, so the stored streak
	// is replaced rather than extended.
	ConsecutiveFails int
	ResetConsecutive bool
	Healthy          *bool
	LastUsedAt       *time.Time
	LastCheckedAt    *time.Time
	LastErrorKind    string
}

// Empty reports whether the delta carries nothing to write.
func (d ProxyStatsDelta) Empty() bool {
	return d.Requests == 0 && d.ConsecutiveFails == 0 && !d.ResetConsecutive &&
		d.Healthy == nil && d.LastUsedAt == nil && d.LastCheckedAt == nil
}

// Then folds next, which happened after d, into d.
func (d ProxyStatsDelta) Then(next ProxyStatsDelta) ProxyStatsDelta {
	out := d
	out.Requests += next.Requests
	out.Successes += next.Successes
	out.Failures += next.Failures
	if next.ResetConsecutive {
		out.ConsecutiveFails = next.ConsecutiveFails
		out.ResetConsecutive = true
	} else {
		out.ConsecutiveFails += next.ConsecutiveFails
	}
	if next.Healthy != nil {
		out.Healthy = next.Healthy
	}
	out.LastUsedAt = latest(d.LastUsedAt, next.LastUsedAt)
	out.LastCheckedAt = latest(d.LastCheckedAt, next.LastCheckedAt)
	if next.LastErrorKind != "" {
		out.LastErrorKind = next.LastErrorKind
	}
	return out
}

// ApplyTo adds the delta to a stored endpoint row.
func (d ProxyStatsDelta) ApplyTo(ep *ProxyEndpoint) {
	ep.TotalRequests += d.Requests
	ep.SuccessCount += d.Successes
	ep.FailureCount += d.Failures
	if d.ResetConsecutive {
		ep.ConsecutiveFails = d.ConsecutiveFails
	} else {
		ep.ConsecutiveFails += d.ConsecutiveFails
	}
	if d.Healthy != nil {
		ep.Healthy = *d.Healthy
	}
	ep.LastUsedAt = latest(ep.LastUsedAt, d.LastUsedAt)
	ep.LastCheckedAt = latest(ep.LastCheckedAt, d.LastCheckedAt)
	if d.LastErrorKind != "" {
		ep.LastErrorKind = d.LastErrorKind
	}
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil || !b.After(*a):
		return a
	default:
		return b
	}
}
