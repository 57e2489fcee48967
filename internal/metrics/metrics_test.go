package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/metrics"
)

func newMetrics(t *testing.T) (*metrics.ReconciliationMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	otelReg, err := metrics.NewRegistryWithMeter(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return metrics.NewReconciliationMetrics(reg, otelReg), reg
}

func TestReconciliationMetrics_RecordRun(t *testing.T) {
	m, reg := newMetrics(t)
	ctx := context.Background()

	m.RecordRun(ctx, 250*time.Millisecond, nil)
	m.RecordRun(ctx, time.Second, assert.AnError)
	m.RecordRecords("audit", 42)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, 42.0, gaugeValue(t, reg, "securelens_records_fetched"))
	count, err := testutil.GatherAndCount(reg, "securelens_reconciliation_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReconciliationMetrics_RecordResult(t *testing.T) {
	m, reg := newMetrics(t)

	m.RecordResult(context.Background(), elevation.ApplicationStatisticsResult{
		SettingName:          "7-Zip",
		TotalCompletions:     3,
		UniqueUserCount:      2,
		UnauthorizedAttempts: 1,
		AuthorizedMembers:    5,
	})

	assert.Equal(t, 3.0, gaugeValue(t, reg, "securelens_setting_completions"))
	assert.Equal(t, 2.0, gaugeValue(t, reg, "securelens_setting_unique_users"))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "securelens_setting_unauthorized_attempts"))
	assert.Equal(t, 5.0, gaugeValue(t, reg, "securelens_setting_authorized_members"))
}

func TestReconciliationMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.ReconciliationMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordRun(ctx, time.Second, nil)
		m.RecordStage("classify", time.Millisecond)
		m.RecordRecords("audit", 1)
		m.RecordResult(ctx, elevation.ApplicationStatisticsResult{SettingName: "x"})
		m.RecordDiagnostic(ctx, elevation.Warning(elevation.KindGroupNotFound, "g", "missing"))
	})

	h := m.InstrumentHTTPHandler("noop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestInstrumentHTTPHandler(t *testing.T) {
	m, reg := newMetrics(t)

	h := m.InstrumentHTTPHandler("statistics", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/statistics/x", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	count, err := testutil.GatherAndCount(reg, "securelens_api_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `securelens_api_http_requests_total{handler="statistics",method="GET",status="4xx"} 1`)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.NotEmpty(t, f.GetMetric())
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
