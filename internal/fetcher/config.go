package fetcher

import "time"

// Default configuration values.
const (
	defaultUserAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultAttemptTimeout      = 30 * time.Second
	defaultMaxRetryAttempts    = 3
	defaultBaseDelay           = time.Second
	defaultMaxDelay            = 30 * time.Second
	defaultPreRequestDelayMin  = time.Second
	defaultPreRequestDelayMax  = 3 * time.Second
	defaultMaxBodyBytes        = 10 << 20
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
)

// Config holds fetch client configuration. New uses the values as given;
// call WithDefaults to fill unset fields.
type Config struct {
	UserAgent          string        `env:"FETCH_USER_AGENT"            yaml:"user_agent"`
	AttemptTimeout     time.Duration `env:"FETCH_ATTEMPT_TIMEOUT"       yaml:"attempt_timeout"`
	MaxRetryAttempts   int           `env:"FETCH_MAX_RETRY_ATTEMPTS"    yaml:"max_retry_attempts"`
	BaseDelay          time.Duration `env:"FETCH_BASE_DELAY"            yaml:"base_delay"`
	MaxDelay           time.Duration `env:"FETCH_MAX_DELAY"             yaml:"max_delay"`
	PreRequestDelayMin time.Duration `env:"FETCH_PRE_REQUEST_DELAY_MIN" yaml:"pre_request_delay_min"`
	PreRequestDelayMax time.Duration `env:"FETCH_PRE_REQUEST_DELAY_MAX" yaml:"pre_request_delay_max"`
	MaxBodyBytes       int64         `env:"FETCH_MAX_BODY_BYTES"        yaml:"max_body_bytes"`
	// RequireProxy fails an attempt when the proxy pool has nothing usable
	// instead of falling back to a direct connection.
	RequireProxy        bool          `env:"FETCH_REQUIRE_PROXY" yaml:"require_proxy"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`

	// HostRateLimit caps attempts per second against one target host across
	// every worker in the process. Zero disables the limit.
	HostRateLimit float64 `env:"FETCH_HOST_RATE_LIMIT" yaml:"host_rate_limit"`
	HostBurst     int     `env:"FETCH_HOST_BURST"      yaml:"host_burst"`
}

// WithDefaults returns a copy of the config with default values applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultAttemptTimeout
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.PreRequestDelayMin == 0 && c.PreRequestDelayMax == 0 {
		c.PreRequestDelayMin = defaultPreRequestDelayMin
		c.PreRequestDelayMax = defaultPreRequestDelayMax
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = defaultTLSHandshakeTimeout
	}
	if c.HostRateLimit > 0 && c.HostBurst <= 0 {
		c.HostBurst = 1
	}
	return c
}

// retries returns the retry budget; a negative MaxRetryAttempts disables retries.
func (c Config) retries() int {
	if c.MaxRetryAttempts < 0 {
		return 0
	}
	return c.MaxRetryAttempts
}
