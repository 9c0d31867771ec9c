// Package telemetry provides observability primitives for the Haven backend.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the backend.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	RateLimitRejects *prometheus.CounterVec
	TokensCommitted  *prometheus.CounterVec
	FallbackTotal    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haven",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "haven",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "haven",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "haven",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream model call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haven",
			Name:      "upstream_errors_total",
			Help:      "Total upstream model call errors.",
		}, []string{"model"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "haven",
			Name:      "cache_hits_total",
			Help:      "Total version cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "haven",
			Name:      "cache_misses_total",
			Help:      "Total version cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haven",
			Name:      "ratelimit_rejects_total",
			Help:      "Total chat requests rejected by the daily limiter.",
		}, []string{"reason"}),

		TokensCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haven",
			Name:      "tokens_committed_total",
			Help:      "Total tokens charged against user budgets.",
		}, []string{"model"}),

		FallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "haven",
			Name:      "chat_fallback_total",
			Help:      "Total chat turns answered by the fallback model.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.TokensCommitted,
		m.FallbackTotal,
	)

	return m
}
