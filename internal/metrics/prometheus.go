package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pingsix"

// exporter mirrors Collector's counters as real client_golang metrics
// against a private registry, the way zalando-skipper's metrics/prometheus.go
// keeps its own *prometheus.Registry rather than registering into the
// package-global default one. Collector's Record/Set methods update both its
// own maps (used by Snapshot and WritePrometheus) and this exporter, so
// there is exactly one call site per metric event.
type exporter struct {
	registry            *prometheus.Registry
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	retryTotal          *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
	backendHealth       *prometheus.GaugeVec
}

func newExporter() *exporter {
	reg := prometheus.NewRegistry()
	e := &exporter{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests handled, by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds, by route.",
			Buckets:   DefaultBuckets,
		}, []string{"route"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total proxy cache hits, by route.",
		}, []string{"route"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total proxy cache misses, by route.",
		}, []string{"route"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_total",
			Help:      "Total upstream retry attempts, by route.",
		}, []string{"route"}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by route (0=closed, 1=open, 2=half_open).",
		}, []string{"route"}),
		backendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health",
			Help:      "Backend health by route and backend (0=unhealthy, 1=healthy).",
		}, []string{"route", "backend"}),
	}
	reg.MustRegister(
		e.requestsTotal, e.requestDuration, e.cacheHits, e.cacheMisses,
		e.retryTotal, e.circuitBreakerState, e.backendHealth,
	)
	return e
}

// Handler serves the exporter's registry in Prometheus text format.
func (e *exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
