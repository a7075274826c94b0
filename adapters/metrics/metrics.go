// Package metrics provides Prometheus metrics collection for quotagate.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quotagate"

// Collector holds all Prometheus metrics for quotagate.
// Helper methods are safe to call on a nil *Collector.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Decision metrics
	Decisions        *prometheus.CounterVec
	RateLimitDenials *prometheus.CounterVec
	UsageTracked     *prometheus.CounterVec
	SoftWarnings     *prometheus.CounterVec

	// Store metrics
	StoreErrors        *prometheus.CounterVec
	StoreDuration      *prometheus.HistogramVec
	RecordAppendErrors prometheus.Counter
	SweepRemoved       prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of admission decisions by check and outcome",
			},
			[]string{"check", "outcome"},
		),
		RateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_denials_total",
				Help:      "Total number of rate limit denials by tier and exceeded window",
			},
			[]string{"tier", "window"},
		),
		UsageTracked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_units_total",
				Help:      "Total feature units consumed",
			},
			[]string{"feature"},
		),
		SoftWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "soft_limit_warnings_total",
				Help:      "Total number of allowed decisions past the soft limit",
			},
			[]string{"feature", "level"},
		),

		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of counter store failures",
			},
			[]string{"op"},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_duration_seconds",
				Help:      "Counter store operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"op"},
		),
		RecordAppendErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_record_append_errors_total",
				Help:      "Total number of usage records that could not be stored",
			},
		),
		SweepRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_removed_counters_total",
				Help:      "Total number of expired counters removed by the sweeper",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// Decision records one admission outcome. check is "ratelimit" or "feature";
// outcome is "allowed" or the denial reason.
func (c *Collector) Decision(check, outcome string) {
	if c == nil {
		return
	}
	c.Decisions.WithLabelValues(check, outcome).Inc()
}

// RateLimitDenied records a denial against one tier window.
func (c *Collector) RateLimitDenied(tier, window string) {
	if c == nil {
		return
	}
	c.RateLimitDenials.WithLabelValues(tier, window).Inc()
}

// Tracked records consumed feature units.
func (c *Collector) Tracked(feature string, amount int64) {
	if c == nil {
		return
	}
	c.UsageTracked.WithLabelValues(feature).Add(float64(amount))
}

// SoftWarning records an allowed decision past the soft limit.
func (c *Collector) SoftWarning(feature, level string) {
	if c == nil {
		return
	}
	c.SoftWarnings.WithLabelValues(feature, level).Inc()
}

// StoreOp records the duration and outcome of a counter store call.
func (c *Collector) StoreOp(op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.StoreDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		c.StoreErrors.WithLabelValues(op).Inc()
	}
}

// RecordAppendFailed records a usage record that could not be stored.
func (c *Collector) RecordAppendFailed() {
	if c == nil {
		return
	}
	c.RecordAppendErrors.Inc()
}

// Swept records counters removed by a sweep run.
func (c *Collector) Swept(n int64) {
	if c == nil {
		return
	}
	c.SweepRemoved.Add(float64(n))
}

// ConfigReloaded records the outcome of a config reload.
func (c *Collector) ConfigReloaded(err error, at time.Time) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}
