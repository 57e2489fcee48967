package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/securelens/securelens/internal/domain/elevation"
)

const namespace = "securelens"

// ReconciliationMetrics exposes run outcomes as Prometheus collectors and,
// when an OpenTelemetry registry is attached, mirrors them over OTLP.
// A nil *ReconciliationMetrics is a valid no-op recorder.
type ReconciliationMetrics struct {
	gatherer prometheus.Gatherer
	otel     *Registry

	runsTotal            *prometheus.CounterVec
	runDuration          prometheus.Histogram
	stageDuration        *prometheus.HistogramVec
	recordsFetched       *prometheus.GaugeVec
	completions          *prometheus.GaugeVec
	uniqueUsers          *prometheus.GaugeVec
	unauthorizedAttempts *prometheus.GaugeVec
	authorizedMembers    *prometheus.GaugeVec
	diagnosticsTotal     *prometheus.CounterVec
	lastRunTimestamp     prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewReconciliationMetrics registers the collectors on reg. Passing a
// dedicated prometheus.NewRegistry keeps tests isolated from the default
// registry. otelRegistry may be nil.
func NewReconciliationMetrics(reg *prometheus.Registry, otelRegistry *Registry) *ReconciliationMetrics {
	factory := promauto.With(reg)

	return &ReconciliationMetrics{
		gatherer: reg,
		otel:     otelRegistry,

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "runs_total",
				Help:      "Total number of reconciliation runs",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "run_duration_seconds",
				Help:      "Reconciliation run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each reconciliation stage",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"stage"},
		),
		recordsFetched: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "fetched",
				Help:      "Records fetched by the most recent run",
			},
			[]string{"kind"},
		),
		completions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "setting",
				Name:      "completions",
				Help:      "Qualifying completions per setting in the most recent run",
			},
			[]string{"setting"},
		),
		uniqueUsers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "setting",
				Name:      "unique_users",
				Help:      "Distinct authorized users with completions per setting",
			},
			[]string{"setting"},
		),
		unauthorizedAttempts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "setting",
				Name:      "unauthorized_attempts",
				Help:      "Approved elevations by users outside the authorized groups",
			},
			[]string{"setting"},
		),
		authorizedMembers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "setting",
				Name:      "authorized_members",
				Help:      "Resolved authorized users per setting",
			},
			[]string{"setting"},
		),
		diagnosticsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "diagnostics_total",
				Help:      "Diagnostics emitted during runs",
			},
			[]string{"severity", "kind"},
		),
		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the most recent successful run",
			},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "handler", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"method", "handler"},
		),
	}
}

// RecordRun records the outcome of a run.
func (m *ReconciliationMetrics) RecordRun(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	} else {
		m.lastRunTimestamp.SetToCurrentTime()
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.RecordRun(ctx, float64(duration.Milliseconds()), err == nil)
	}
}

// RecordStage records how long one pipeline stage took.
func (m *ReconciliationMetrics) RecordStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRecords records the number of records fetched for kind.
func (m *ReconciliationMetrics) RecordRecords(kind string, n int) {
	if m == nil {
		return
	}
	m.recordsFetched.WithLabelValues(kind).Set(float64(n))
	if m.otel != nil {
		m.otel.SetRecordsFetched(kind, int64(n))
	}
}

// RecordResult publishes the statistics of one setting.
func (m *ReconciliationMetrics) RecordResult(ctx context.Context, res elevation.ApplicationStatisticsResult) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(res.SettingName).Set(float64(res.TotalCompletions))
	m.uniqueUsers.WithLabelValues(res.SettingName).Set(float64(res.UniqueUserCount))
	m.unauthorizedAttempts.WithLabelValues(res.SettingName).Set(float64(res.UnauthorizedAttempts))
	m.authorizedMembers.WithLabelValues(res.SettingName).Set(float64(res.AuthorizedMembers))
	if m.otel != nil {
		m.otel.RecordSetting(ctx, res.SettingName, int64(res.TotalCompletions), int64(res.UnauthorizedAttempts))
		m.otel.SetAuthorizedMembers(res.SettingName, int64(res.AuthorizedMembers))
	}
}

// RecordDiagnostic counts a diagnostic by severity and kind.
func (m *ReconciliationMetrics) RecordDiagnostic(ctx context.Context, d elevation.Diagnostic) {
	if m == nil {
		return
	}
	m.diagnosticsTotal.WithLabelValues(string(d.Severity), string(d.Kind)).Inc()
	if m.otel != nil && (d.Kind == elevation.KindGroupNotFound || d.Kind == elevation.KindGroupUnresolved || d.Kind == elevation.KindNoSnapshot) {
		m.otel.RecordGroupFailure(ctx, string(d.Kind))
	}
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *ReconciliationMetrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// InstrumentHTTPHandler wraps an HTTP handler with metrics collection
func (m *ReconciliationMetrics) InstrumentHTTPHandler(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		handler(wrapped, r)

		duration := time.Since(start)
		m.httpRequestsTotal.WithLabelValues(r.Method, handlerName, statusCodeClass(wrapped.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, handlerName).Observe(duration.Seconds())
		if m.otel != nil {
			m.otel.RecordAPIRequest(r.Context(), float64(duration.Milliseconds()), r.Method, handlerName, wrapped.statusCode)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// statusCodeClass returns the status code class (2xx, 3xx, 4xx, 5xx)
func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
