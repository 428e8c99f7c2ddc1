package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready to serve traffic.",
	})
)

// Request-engine metrics.
var (
	requestsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_requests_created_total",
			Help: "Role/authorization request intents by type and outcome (direct, pending, already_pending).",
		},
		[]string{"type", "outcome"},
	)

	requestDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_request_decisions_total",
			Help: "Terminal request decisions by type (approved, denied, cancelled).",
		},
		[]string{"type", "decision"},
	)

	accountMerges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_account_merges_total",
			Help: "Account merge executions by outcome (applied, failed).",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		requestsCreated, requestDecisions, accountMerges,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CountRequestCreated records a createRequest outcome.
func CountRequestCreated(requestType, outcome string) {
	requestsCreated.WithLabelValues(requestType, outcome).Inc()
}

// CountRequestDecision records a terminal transition.
func CountRequestDecision(requestType, decision string) {
	requestDecisions.WithLabelValues(requestType, decision).Inc()
}

// CountAccountMerge records a merge execution.
func CountAccountMerge(outcome string) {
	accountMerges.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
