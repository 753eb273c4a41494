package proxypool

import "time"

// Default configuration values.
const (
	DefaultFailureThreshold = 3
	DefaultProbeURL         = "http://www.gstatic.com/generate_204"
	DefaultProbeSchedule    = "@every 5m"
	DefaultProbeTimeout     = 10 * time.Second
	DefaultProbeConcurrency = 8
	DefaultFlushSchedule    = "@every 1m"
	DefaultRefreshSchedule  = "@every 1m"
)

// Config holds proxy pool settings.
type Config struct {
	// Enabled turns proxy rotation on. A disabled pool never selects.
	Enabled bool `env:"PROXY_POOL_ENABLED" yaml:"enabled"`
	// FailureThreshold is the number of consecutive failures that mark an
	// endpoint unhealthy.
	FailureThreshold int `env:"PROXY_FAILURE_THRESHOLD" yaml:"failure_threshold"`

	ProbeURL         string        `env:"PROXY_PROBE_URL" yaml:"probe_url"`
	ProbeSchedule    string        `env:"PROXY_PROBE_SCHEDULE" yaml:"probe_schedule"`
	ProbeTimeout     time.Duration `env:"PROXY_PROBE_TIMEOUT" yaml:"probe_timeout"`
	ProbeConcurrency int           `yaml:"probe_concurrency"`
	// FlushSchedule controls how often counters are written back to storage.
	FlushSchedule string `env:"PROXY_FLUSH_SCHEDULE" yaml:"flush_schedule"`
	// RefreshSchedule controls how often membership and health flushed by
	// other processes are reloaded.
	RefreshSchedule string `env:"PROXY_REFRESH_SCHEDULE" yaml:"refresh_schedule"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ProbeURL == "" {
		c.ProbeURL = DefaultProbeURL
	}
	if c.ProbeSchedule == "" {
		c.ProbeSchedule = DefaultProbeSchedule
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = DefaultProbeConcurrency
	}
	if c.FlushSchedule == "" {
		c.FlushSchedule = DefaultFlushSchedule
	}
	if c.RefreshSchedule == "" {
		c.RefreshSchedule = DefaultRefreshSchedule
	}
}
