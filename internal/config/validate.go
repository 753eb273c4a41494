package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/robfig/cron/v3"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		add("logging.level", "must be one of: debug, info, warn, error, fatal")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format", "must be one of: json, console")
	}

	if c.Database.Host == "" {
		add("database.host", "is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		add("database.port", "must be between 1 and 65535")
	}
	if c.Redis.Address == "" {
		add("redis.address", "is required")
	}

	if c.Fetcher.PreRequestDelayMin > c.Fetcher.PreRequestDelayMax {
		add("fetcher.pre_request_delay_min", "must not exceed pre_request_delay_max")
	}

	if c.ProxyPool.Enabled {
		if _, err := cron.ParseStandard(c.ProxyPool.ProbeSchedule); err != nil {
			add("proxy_pool.probe_schedule", err.Error())
		}
		if _, err := cron.ParseStandard(c.ProxyPool.FlushSchedule); err != nil {
			add("proxy_pool.flush_schedule", err.Error())
		}
		if _, err := cron.ParseStandard(c.ProxyPool.RefreshSchedule); err != nil {
			add("proxy_pool.refresh_schedule", err.Error())
		}
		if u, err := url.Parse(c.ProxyPool.ProbeURL); err != nil || u.Host == "" {
			add("proxy_pool.probe_url", "must be an absolute URL")
		}
	}

	for _, d := range c.Alerts.Dispatchers {
		switch d {
		case DispatcherStream, DispatcherLog:
		case DispatcherWebhook:
			if u, err := url.Parse(c.Webhook.URL); err != nil || u.Host == "" {
				add("webhook.url", "must be an absolute URL when the webhook dispatcher is enabled")
			}
		default:
			add("alerts.dispatchers", fmt.Sprintf("unknown dispatcher %q", d))
		}
	}

	if !c.Server.Disabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		add("server.port", "must be between 1 and 65535")
	}

	return errors.Join(errs...)
}
