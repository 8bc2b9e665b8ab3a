// Package metrics exposes the console's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draas_http_requests_total",
			Help: "HTTP requests served by the console API",
		},
		[]string{"handler", "method", "code"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draas_http_request_duration_seconds",
			Help:    "Latency of console API requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
	pollResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draas_poll_results_total",
			Help: "Snapshot fetches against the scheduler by resource and outcome",
		},
		[]string{"resource", "outcome"},
	)
	snapshotSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "draas_snapshot_entries",
			Help: "Entries in the last accepted snapshot",
		},
		[]string{"resource"},
	)
	sessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draas_upload_sessions_total",
			Help: "Upload sessions by terminal phase and error code",
		},
		[]string{"phase", "code"},
	)
	confirmationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "draas_payment_confirmation_seconds",
			Help:    "Time from fee submission to confirmation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draas_cancellations_total",
			Help: "Cancellation requests by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpLatency,
		pollResults,
		snapshotSize,
		sessionOutcomes,
		confirmationLatency,
		cancellations,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObservePoll records one snapshot fetch. entries is ignored on failure.
func ObservePoll(resource string, entries int, err error) {
	if err != nil {
		pollResults.WithLabelValues(resource, "error").Inc()
		return
	}
	pollResults.WithLabelValues(resource, "ok").Inc()
	snapshotSize.WithLabelValues(resource).Set(float64(entries))
}

// ObserveSession records a session reaching a terminal phase.
func ObserveSession(phase, code string) {
	if code == "" {
		code = "none"
	}
	sessionOutcomes.WithLabelValues(phase, code).Inc()
}

// ObserveConfirmation records how long a fee transaction took to confirm.
func ObserveConfirmation(duration time.Duration) {
	confirmationLatency.Observe(duration.Seconds())
}

// ObserveCancel records a cancellation outcome: skipped, cancelled or failed.
func ObserveCancel(outcome string) {
	cancellations.WithLabelValues(outcome).Inc()
}

// Registry returns the registry holding every console collector.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
