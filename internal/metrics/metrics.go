// Package metrics provides Prometheus metrics for the price-monitor pipeline.
// Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all price-monitor metrics.
	Namespace = "price_monitor"

	subsystemFetch    = "fetch"
	subsystemProxy    = "proxy"
	subsystemScrape   = "scrape"
	subsystemConsumer = "consumer"
	subsystemPrice    = "price"
	subsystemAlert    = "alert"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Fetch metrics
	FetchAttempts       *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Proxy metrics
	ProxyHealthy *prometheus.GaugeVec
	ProxyResults *prometheus.CounterVec

	// Scrape metrics
	ScrapeOutcomes *prometheus.CounterVec
	ScrapeDuration prometheus.Histogram

	// Consumer metrics
	MessagesConsumed *prometheus.CounterVec

	// Price metrics
	PricePointsRecorded prometheus.Counter
	DuplicatesSkipped   prometheus.Counter

	// Alert metrics
	AlertsEvaluated       *prometheus.CounterVec
	AlertDispatchFailures prometheus.Counter
}

// New creates and registers all metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initFetchMetrics(factory)
	m.initProxyMetrics(factory)
	m.initScrapeMetrics(factory)
	m.initPriceMetrics(factory)
	m.initAlertMetrics(factory)

	return m
}

func (m *Metrics) initFetchMetrics(factory promauto.Factory) {
	m.FetchAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemFetch,
			Name:      "attempts_total",
			Help:      "Outbound fetch attempts by target host and result kind",
		},
		[]string{"host", "result"},
	)
	m.FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystemFetch,
			Name:      "duration_seconds",
			Help:      "Duration of a complete fetch including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"result"},
	)
	m.CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystemFetch,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per host (0=closed, 1=open, 2=half-open)",
		},
		[]string{"host"},
	)
	m.CircuitBreakerTrips = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemFetch,
			Name:      "circuit_breaker_trips_total",
			Help:      "Number of times a host circuit opened",
		},
		[]string{"host"},
	)
}

func (m *Metrics) initProxyMetrics(factory promauto.Factory) {
	m.ProxyHealthy = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystemProxy,
			Name:      "healthy",
			Help:      "Whether a proxy endpoint is currently healthy",
		},
		[]string{"proxy"},
	)
	m.ProxyResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemProxy,
			Name:      "results_total",
			Help:      "Recorded proxy outcomes",
		},
		[]string{"proxy", "result"},
	)
}

func (m *Metrics) initScrapeMetrics(factory promauto.Factory) {
	m.ScrapeOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemScrape,
			Name:      "outcomes_total",
			Help:      "Scrape command outcomes by error code (empty on success)",
		},
		[]string{"status", "code"},
	)
	m.ScrapeDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystemScrape,
			Name:      "duration_seconds",
			Help:      "Time to process a scrape command",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9),
		},
	)
	m.MessagesConsumed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemConsumer,
			Name:      "messages_total",
			Help:      "Stream messages handled by result (acked, retry, dead_letter)",
		},
		[]string{"stream", "result"},
	)
}

func (m *Metrics) initPriceMetrics(factory promauto.Factory) {
	m.PricePointsRecorded = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemPrice,
			Name:      "points_recorded_total",
			Help:      "Price history rows written",
		},
	)
	m.DuplicatesSkipped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemPrice,
			Name:      "duplicates_skipped_total",
			Help:      "Redelivered raw price events skipped after full processing",
		},
	)
}

func (m *Metrics) initAlertMetrics(factory promauto.Factory) {
	m.AlertsEvaluated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemAlert,
			Name:      "rules_evaluated_total",
			Help:      "Alert rule evaluations by condition and result (triggered, suppressed, not_met)",
		},
		[]string{"condition", "result"},
	)
	m.AlertDispatchFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemAlert,
			Name:      "dispatch_failures_total",
			Help:      "Triggered alerts the dispatcher failed to deliver",
		},
	)
}

// RecordFetchAttempt counts one outbound attempt.
func (m *Metrics) RecordFetchAttempt(host, result string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(host, result).Inc()
}

// ObserveFetch records a completed fetch.
func (m *Metrics) ObserveFetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(result).Observe(seconds)
}

// SetCircuitBreakerState records a breaker transition.
func (m *Metrics) SetCircuitBreakerState(host string, state int, tripped bool) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(host).Set(float64(state))
	if tripped {
		m.CircuitBreakerTrips.WithLabelValues(host).Inc()
	}
}

// RecordProxyResult counts a proxy outcome and its resulting health.
func (m *Metrics) RecordProxyResult(proxy string, success, healthy bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.ProxyResults.WithLabelValues(proxy, result).Inc()
	m.SetProxyHealthy(proxy, healthy)
}

// SetProxyHealthy sets the health gauge for a proxy.
func (m *Metrics) SetProxyHealthy(proxy string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.ProxyHealthy.WithLabelValues(proxy).Set(v)
}

// RecordScrape counts a finished scrape command.
func (m *Metrics) RecordScrape(status, code string, seconds float64) {
	if m == nil {
		return
	}
	m.ScrapeOutcomes.WithLabelValues(status, code).Inc()
	m.ScrapeDuration.Observe(seconds)
}

// RecordMessage counts a handled stream message.
func (m *Metrics) RecordMessage(stream, result string) {
	if m == nil {
		return
	}
	m.MessagesConsumed.WithLabelValues(stream, result).Inc()
}

// RecordPricePoint counts a written price history row.
func (m *Metrics) RecordPricePoint() {
	if m == nil {
		return
	}
	m.PricePointsRecorded.Inc()
}

// RecordDuplicateSkipped counts a skipped redelivery.
func (m *Metrics) RecordDuplicateSkipped() {
	if m == nil {
		return
	}
	m.DuplicatesSkipped.Inc()
}

// RecordRuleEvaluation counts one rule evaluation.
func (m *Metrics) RecordRuleEvaluation(condition, result string) {
	if m == nil {
		return
	}
	m.AlertsEvaluated.WithLabelValues(condition, result).Inc()
}

// RecordDispatchFailure counts a failed alert delivery.
func (m *Metrics) RecordDispatchFailure() {
	if m == nil {
		return
	}
	m.AlertDispatchFailures.Inc()
}
