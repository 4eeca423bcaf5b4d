package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP trigger metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// CRM client metrics
	CRMRequestsTotal   *prometheus.CounterVec
	CRMRequestDuration *prometheus.HistogramVec
	CRMRetriesTotal    *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitPausesTotal prometheus.Counter

	// Rollup metrics
	RollupRunsTotal            *prometheus.CounterVec
	RollupRunDuration          prometheus.Histogram
	RollupListCallsTotal       prometheus.Counter
	RollupOrganizationsUpdated prometheus.Counter
	RollupFailuresTotal        *prometheus.CounterVec
	RollupRunning              prometheus.Gauge
	RollupLastSuccess          prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgrollup_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgrollup_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		CRMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgrollup_crm_requests_total",
				Help: "Total number of completed CRM round trips",
			},
			[]string{"operation", "status"},
		),
		CRMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgrollup_crm_request_duration_seconds",
				Help:    "CRM round trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CRMRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgrollup_crm_retries_total",
				Help: "Total number of retried CRM requests",
			},
			[]string{"operation"},
		),

		RateLimitPausesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgrollup_ratelimit_pauses_total",
				Help: "Total number of rate limiter pauses",
			},
		),

		RollupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgrollup_rollup_runs_total",
				Help: "Total number of rollup runs",
			},
			[]string{"trigger", "status"},
		),
		RollupRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orgrollup_rollup_run_duration_seconds",
				Help:    "Rollup run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
			},
		),
		RollupListCallsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgrollup_rollup_list_calls_total",
				Help: "Total number of organization pages listed",
			},
		),
		RollupOrganizationsUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgrollup_rollup_organizations_updated_total",
				Help: "Total number of organizations that received rollup totals",
			},
		),
		RollupFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgrollup_rollup_failures_total",
				Help: "Total number of skipped entity-level failures",
			},
			[]string{"operation"},
		),
		RollupRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orgrollup_rollup_running",
				Help: "1 while a rollup run is in progress",
			},
		),
		RollupLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orgrollup_rollup_last_success_timestamp_seconds",
				Help: "Unix time of the last successful rollup run",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CRMRequestsTotal,
		m.CRMRequestDuration,
		m.CRMRetriesTotal,
		m.RateLimitPausesTotal,
		m.RollupRunsTotal,
		m.RollupRunDuration,
		m.RollupListCallsTotal,
		m.RollupOrganizationsUpdated,
		m.RollupFailuresTotal,
		m.RollupRunning,
		m.RollupLastSuccess,
	)

	return m
}

// The Record* helpers are nil-safe so instrumented components work without metrics.

// RecordCRMRequest records a completed CRM round trip
func (m *Metrics) RecordCRMRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CRMRequestsTotal.WithLabelValues(operation, status).Inc()
	m.CRMRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCRMRetry records a retried CRM request
func (m *Metrics) RecordCRMRetry(operation string) {
	if m == nil {
		return
	}
	m.CRMRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordRateLimitPause records a rate limiter pause
func (m *Metrics) RecordRateLimitPause() {
	if m == nil {
		return
	}
	m.RateLimitPausesTotal.Inc()
}

// RecordListCall records one organization page request
func (m *Metrics) RecordListCall() {
	if m == nil {
		return
	}
	m.RollupListCallsTotal.Inc()
}

// RecordOrganizationUpdated records a successful totals write-back
func (m *Metrics) RecordOrganizationUpdated() {
	if m == nil {
		return
	}
	m.RollupOrganizationsUpdated.Inc()
}

// RecordFailure records a skipped entity-level failure
func (m *Metrics) RecordFailure(operation string) {
	if m == nil {
		return
	}
	m.RollupFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordRunStarted marks a rollup run as in progress
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RollupRunning.Set(1)
}

// RecordRunFinished records the outcome of a rollup run
func (m *Metrics) RecordRunFinished(trigger string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.RollupLastSuccess.SetToCurrentTime()
	}
	m.RollupRunning.Set(0)
	m.RollupRunsTotal.WithLabelValues(trigger, status).Inc()
	m.RollupRunDuration.Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RouteTemplate resolves the path label for a request. Routers that know the
// matched template should supply it to keep label cardinality bounded.
type RouteTemplate func(r *http.Request) string

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics, route RouteTemplate) func(http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := route(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
