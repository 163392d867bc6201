package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Data-path metrics. Counters are shared across workers; the label sets
// are small and fixed.
var (
	// ConnsAccepted counts accepted connections per listener.
	ConnsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastproxy_connections_accepted_total",
		Help: "Connections accepted, by listener.",
	}, []string{"listener"})

	// ConnsActive tracks live connections per listener.
	ConnsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fastproxy_connections_active",
		Help: "Connections currently being served, by listener.",
	}, []string{"listener"})

	// AcceptErrors counts transient accept failures.
	AcceptErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastproxy_accept_errors_total",
		Help: "Transient accept errors, by listener.",
	}, []string{"listener"})

	// Requests counts finished exchanges by listener and status class
	// ("2xx".."5xx" for HTTP, "ok"/"exception"/"oneway" for Thrift).
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastproxy_requests_total",
		Help: "Finished exchanges, by listener and status class.",
	}, []string{"listener", "class"})

	// RequestDuration observes wall time per exchange.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fastproxy_request_duration_seconds",
		Help:    "Exchange duration from head read to response written.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"listener"})

	// Reloads counts reconfiguration attempts by outcome.
	Reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastproxy_reloads_total",
		Help: "Pipeline reload attempts, by outcome (ok|error).",
	}, []string{"outcome"})

	// Generation publishes the highest active pipeline generation.
	Generation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fastproxy_pipeline_generation",
		Help: "Currently published pipeline generation.",
	})
)

// StatusClass buckets an HTTP status for the Requests counter.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
