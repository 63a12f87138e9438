// Package metrics exposes Prometheus instrumentation for the
// forwarding server. It is entirely optional: a nil *Metrics (what the
// server holds when --metrics-addr is unset) makes every method a
// no-op.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's Prometheus vectors.
type Metrics struct {
	queriesTotal   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	resolverHops   prometheus.Histogram
	rateLimitDrops prometheus.Counter
}

// New registers and returns a fresh set of collectors against the
// default registry.
func New() *Metrics {
	return &Metrics{
		queriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dnser_queries_total",
			Help: "Total number of DNS queries answered by the forwarding server",
		}, []string{"mode", "qtype", "rcode"}),

		queryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dnser_query_duration_seconds",
			Help:    "Time to answer a single client query end to end",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),

		resolverHops: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dnser_resolver_hops",
			Help:    "Number of name-server hops taken by an iterative resolution",
			Buckets: prometheus.LinearBuckets(1, 1, 12),
		}),

		rateLimitDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dnser_rate_limited_queries_total",
			Help: "Total number of queries dropped by the per-source rate limiter",
		}),
	}
}

// ObserveQuery records one completed query. m may be nil.
func (m *Metrics) ObserveQuery(mode, qtype, rcode string, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(mode, qtype, rcode).Inc()
	m.queryDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveHops records the number of delegation hops an iterative
// resolution took. m may be nil.
func (m *Metrics) ObserveHops(hops int) {
	if m == nil {
		return
	}
	m.resolverHops.Observe(float64(hops))
}

// ObserveRateLimited records one query dropped by the rate limiter. m
// may be nil.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitDrops.Inc()
}

// Handler returns the /metrics HTTP handler for promhttp.
func Handler() http.Handler {
	return promhttp.Handler()
}
