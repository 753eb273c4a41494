package proxypool

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

// ErrUnsupportedProtocol is returned for endpoints the HTTP transport cannot dial.
var ErrUnsupportedProtocol = errors.New("unsupported proxy protocol")

// Endpoint is a pooled proxy. Its counters are guarded by its own mutex.
type Endpoint struct {
	mu   sync.Mutex
	data domain.ProxyEndpoint
	// pending is activity not yet written to the store.
	pending domain.ProxyStatsDelta

	transportOnce sync.Once
	transport     *http.Transport
	transportErr  error
}

func newEndpoint(data domain.ProxyEndpoint) *Endpoint {
	return &Endpoint{data: data}
}

// sameDialTarget reports whether a and b can share a cached transport.
func sameDialTarget(a, b *domain.ProxyEndpoint) bool {
	return a.Host == b.Host && a.Port == b.Port && a.Protocol == b.Protocol &&
		a.Username == b.Username && a.Password == b.Password
}

// Snapshot returns a copy of the endpoint's current state.
func (e *Endpoint) Snapshot() domain.ProxyEndpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data
}

// Key identifies the endpoint without credentials.
func (e *Endpoint) Key() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.Key()
}

// Transport returns an http.Transport that routes through this endpoint,
// cloned from base on first use.
func (e *Endpoint) Transport(base *http.Transport) (*http.Transport, error) {
	e.transportOnce.Do(func() {
		e.transport, e.transportErr = NewTransport(base, e.Snapshot())
	})
	return e.transport, e.transportErr
}

// Supported reports whether the transport can dial protocol p.
func Supported(p domain.ProxyProtocol) bool {
	switch p {
	case domain.ProxyHTTP, domain.ProxyHTTPS, domain.ProxySOCKS5:
		return true
	default:
		return false
	}
}

// NewTransport clones base and points it at the proxy. SOCKS5 is handled
// by net/http through the socks5 URL scheme.
func NewTransport(base *http.Transport, ep domain.ProxyEndpoint) (*http.Transport, error) {
	if !Supported(ep.Protocol) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, ep.Protocol)
	}

	u := &url.URL{Scheme: ep.Protocol.Scheme(), Host: ep.Address()}
	if ep.Username != "" {
		u.User = url.UserPassword(ep.Username, ep.Password)
	}

	var t *http.Transport
	if base != nil {
		t = base.Clone()
	} else {
		t = http.DefaultTransport.(*http.Transport).Clone()
	}
	t.Proxy = http.ProxyURL(u)
	return t, nil
}
