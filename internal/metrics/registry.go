package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the OpenTelemetry instruments exported over OTLP.
type Registry struct {
	meter metric.Meter

	// Reconciliation metrics
	RunDuration          metric.Float64Histogram
	RunCounter           metric.Int64Counter
	CompletionCounter    metric.Int64Counter
	UnauthorizedCounter  metric.Int64Counter
	GroupFailureCounter  metric.Int64Counter
	RecordsFetched       metric.Int64ObservableGauge
	AuthorizedMembership metric.Int64ObservableGauge

	// API metrics
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	// State for observable metrics
	mu          sync.RWMutex
	records     map[string]int64
	memberships map[string]int64
}

// NewRegistry creates the instruments on the named meter of the global
// meter provider.
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(meterName))
}

// NewRegistryWithMeter creates the instruments on an explicit meter.
func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{
		meter:       meter,
		records:     make(map[string]int64),
		memberships: make(map[string]int64),
	}

	if err := r.initReconciliationMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initReconciliationMetrics() error {
	var err error

	r.RunDuration, err = r.meter.Float64Histogram(
		"securelens.reconciliation.run_duration",
		metric.WithDescription("Duration of a reconciliation run in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000),
	)
	if err != nil {
		return err
	}

	r.RunCounter, err = r.meter.Int64Counter(
		"securelens.reconciliation.runs_total",
		metric.WithDescription("Total number of reconciliation runs"),
	)
	if err != nil {
		return err
	}

	r.CompletionCounter, err = r.meter.Int64Counter(
		"securelens.reconciliation.completions_total",
		metric.WithDescription("Qualifying completions counted across runs"),
	)
	if err != nil {
		return err
	}

	r.UnauthorizedCounter, err = r.meter.Int64Counter(
		"securelens.reconciliation.unauthorized_total",
		metric.WithDescription("Approved elevations by users outside the authorized groups"),
	)
	if err != nil {
		return err
	}

	r.GroupFailureCounter, err = r.meter.Int64Counter(
		"securelens.directory.group_failures_total",
		metric.WithDescription("Groups that could not be resolved"),
	)
	if err != nil {
		return err
	}

	r.RecordsFetched, err = r.meter.Int64ObservableGauge(
		"securelens.records.fetched",
		metric.WithDescription("Records fetched by the most recent run"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			for kind, n := range r.records {
				o.Observe(n, metric.WithAttributes(attribute.String("kind", kind)))
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.AuthorizedMembership, err = r.meter.Int64ObservableGauge(
		"securelens.setting.authorized_members",
		metric.WithDescription("Authorized users per setting in the most recent run"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			for setting, n := range r.memberships {
				o.Observe(n, metric.WithAttributes(attribute.String("setting", setting)))
			}
			return nil
		}),
	)

	return err
}

func (r *Registry) initAPIMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"securelens.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"securelens.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)

	return err
}

// SetRecordsFetched sets the fetched record count for a record kind.
func (r *Registry) SetRecordsFetched(kind string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[kind] = n
}

// SetAuthorizedMembers sets the authorized membership size for a setting.
func (r *Registry) SetAuthorizedMembers(setting string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberships[setting] = n
}

// RecordRun records one reconciliation run.
func (r *Registry) RecordRun(ctx context.Context, durationMS float64, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	r.RunDuration.Record(ctx, durationMS, attrs)
	r.RunCounter.Add(ctx, 1, attrs)
}

// RecordSetting records the per-setting outcome of a run.
func (r *Registry) RecordSetting(ctx context.Context, setting string, completions, unauthorized int64) {
	attrs := metric.WithAttributes(attribute.String("setting", setting))
	if completions > 0 {
		r.CompletionCounter.Add(ctx, completions, attrs)
	}
	if unauthorized > 0 {
		r.UnauthorizedCounter.Add(ctx, unauthorized, attrs)
	}
}

// RecordGroupFailure records a group that could not be resolved.
func (r *Registry) RecordGroupFailure(ctx context.Context, reason string) {
	r.GroupFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, duration float64, method, path string, statusCode int) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
