// Package queue moves JSON messages between pipeline stages over Redis
// Streams consumer groups.
package queue

import (
	"errors"
	"strings"
)

// Default stream names.
const (
	DefaultScrapeCommandsStream = "pricemonitor:scrape:commands"
	DefaultScrapeResultsStream  = "pricemonitor:scrape:results"
	DefaultRawPriceStream       = "pricemonitor:price:raw"
	DefaultPricePointsStream    = "pricemonitor:price:points"
	DefaultAlertsStream         = "pricemonitor:alerts:triggered"

	// DeadLetterSuffix is appended to a stream name for rejected messages.
	DeadLetterSuffix = ":dead"
)

// Stream entry fields.
const (
	FieldPayload     = "payload"
	FieldEventID     = "event_id"
	FieldPublishedAt = "published_at"
	FieldError       = "error"
	FieldOriginalID  = "original_id"
)

// ErrMalformed marks a message that can never be processed. Consumers ack
// and dead-letter it instead of leaving it for redelivery.
var ErrMalformed = errors.New("malformed message")

// ErrTooManyDeliveries is recorded on messages dead-lettered after failing
// MaxDeliveries times.
var ErrTooManyDeliveries = errors.New("too many deliveries")

// Streams names every stream the pipeline uses.
type Streams struct {
	ScrapeCommands string `env:"STREAM_SCRAPE_COMMANDS" yaml:"scrape_commands"`
	ScrapeResults  string `env:"STREAM_SCRAPE_RESULTS"  yaml:"scrape_results"`
	RawPriceData   string `env:"STREAM_RAW_PRICE_DATA"  yaml:"raw_price_data"`
	PricePoints    string `env:"STREAM_PRICE_POINTS"    yaml:"price_points"`
	Alerts         string `env:"STREAM_ALERTS"          yaml:"alerts"`
	// MaxLen approximately trims each stream on publish. Zero disables trimming.
	MaxLen int64 `env:"STREAM_MAX_LEN" yaml:"max_len"`
}

// SetDefaults fills unset stream names.
func (s *Streams) SetDefaults() {
	if s.ScrapeCommands == "" {
		s.ScrapeCommands = DefaultScrapeCommandsStream
	}
	if s.ScrapeResults == "" {
		s.ScrapeResults = DefaultScrapeResultsStream
	}
	if s.RawPriceData == "" {
		s.RawPriceData = DefaultRawPriceStream
	}
	if s.PricePoints == "" {
		s.PricePoints = DefaultPricePointsStream
	}
	if s.Alerts == "" {
		s.Alerts = DefaultAlertsStream
	}
}

// DeadLetterStream returns the dead-letter stream for stream.
func DeadLetterStream(stream string) string {
	return stream + DeadLetterSuffix
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
