// Package metrics exposes operator counters over Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics
// is valid and records nothing, so components can run without a
// registry in tests.
type Metrics struct {
	Requests          *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	RateLimited       prometheus.Counter
	GatewaySeconds    prometheus.Histogram
	ActiveConnections prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schemasentry_requests_total",
			Help: "Requests by outcome category.",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schemasentry_cache_hits_total",
			Help: "Cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schemasentry_cache_misses_total",
			Help: "Cache misses.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schemasentry_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		GatewaySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schemasentry_gateway_query_seconds",
			Help:    "Wall-clock duration of database round trips.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schemasentry_active_connections",
			Help: "Connected persistent-channel clients.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Requests, m.CacheHits, m.CacheMisses,
		m.RateLimited, m.GatewaySeconds, m.ActiveConnections,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordOutcome increments the request counter for a category.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

// RecordCache increments the hit or miss counter.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordRateLimited increments the rejection counter.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// RecordGatewayDuration observes one database round trip.
func (m *Metrics) RecordGatewayDuration(seconds float64) {
	if m == nil {
		return
	}
	m.GatewaySeconds.Observe(seconds)
}

// SetActiveConnections sets the persistent-channel client gauge.
func (m *Metrics) SetActiveConnections(n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(n))
}
