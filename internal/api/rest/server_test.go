package rest_test

import (
	"context"
	"encoding/json"
	"io"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/securelens/securelens/internal/api/rest"
	"github.com/securelens/securelens/internal/infrastructure/config"
	"github.com/securelens/securelens/internal/metrics"
	"github.com/securelens/securelens/internal/service/reconciliation"
	"github.com/securelens/securelens/internal/testutil/fixtures"
	"github.com/securelens/securelens/internal/testutil/mocks"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
		Version   string `json:"version"`
	} `json:"meta"`
}

type testEnv struct {
	server *httptest.Server
	store  *reconciliation.MemoryStore
}

func newTestEnv(t *testing.T, checks map[string]rest.HealthCheck) *testEnv {
	t.Helper()
	scenario := fixtures.MultiSettingScenario()
	now := fixtures.Day(2024, time.March, 4)

	engine, err := reconciliation.NewEngine(
		&mocks.StaticSource{Audits: scenario.Audits, Inventory: scenario.Inventory},
		mocks.NewStaticDirectory(scenario.Groups),
		zaptest.NewLogger(t),
		reconciliation.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	store := reconciliation.NewMemoryStore(3)
	scheduler := reconciliation.NewScheduler(engine, scenario.Settings, store, zaptest.NewLogger(t))
	m := metrics.NewReconciliationMetrics(prometheus.NewRegistry(), nil)

	handler := rest.NewHandler(store, scheduler, checks, zaptest.NewLogger(t))
	srv := rest.NewServer(config.ServerConfig{Port: 8080}, handler, m, zaptest.NewLogger(t))

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store}
}

func do(t *testing.T, method, url string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func TestStatistics_NoRunYet(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := do(t, http.MethodGet, env.server.URL+"/api/v1/statistics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "RESOURCE_NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestTriggerRunThenReadStatistics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := do(t, http.MethodPost, env.server.URL+"/api/v1/runs")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, body.Success)

	var run rest.RunResponse
	require.NoError(t, json.Unmarshal(body.Data, &run))
	assert.Equal(t, 4, run.Summary.Settings)

	resp, body = do(t, http.MethodGet, env.server.URL+"/api/v1/statistics?sort=completions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", body.Meta.Version)

	var stats rest.StatisticsResponse
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.Equal(t, run.RunID, stats.RunID)
	require.Len(t, stats.Settings, 4)
	assert.Equal(t, "Visual Studio Code", stats.Settings[0].SettingName)
	assert.NotEmpty(t, stats.Diagnostics)

	for _, s := range stats.Settings {
		if s.SettingName == "Legacy Tool" {
			assert.Nil(t, s.CoveragePct, "no members means no coverage")
		}
	}
}

func TestGetStatistics_BySetting(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _ = do(t, http.MethodPost, env.server.URL+"/api/v1/runs")

	resp, body := do(t, http.MethodGet, env.server.URL+"/api/v1/statistics/7-zip")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s rest.SettingStatistics
	require.NoError(t, json.Unmarshal(body.Data, &s))
	assert.Equal(t, "7-Zip", s.SettingName)
	assert.Equal(t, 2, s.TotalCompletions)
	require.NotNil(t, s.CoveragePct)
	assert.Equal(t, "50.0", *s.CoveragePct)

	resp, body = do(t, http.MethodGet, env.server.URL+"/api/v1/statistics/Unknown%20App")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body.Error.Message, "Unknown App")
}

func TestStatistics_InvalidSort(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := do(t, http.MethodGet, env.server.URL+"/api/v1/statistics?sort=size")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_SORT", body.Error.Code)
}

func TestHealth(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		env := newTestEnv(t, map[string]rest.HealthCheck{
			"redis": func(context.Context) error { return nil },
		})
		resp, err := http.Get(env.server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("failing check", func(t *testing.T) {
		env := newTestEnv(t, map[string]rest.HealthCheck{
			"postgres": func(context.Context) error { return stderrors.New("connection refused") },
		})
		resp, err := http.Get(env.server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _ = do(t, http.MethodPost, env.server.URL+"/api/v1/runs")

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `securelens_api_http_requests_total{handler="trigger_run"`)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/v1/runs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServe_ShutsDownWithContext(t *testing.T) {
	handler := rest.NewHandler(reconciliation.NewMemoryStore(1), nil, nil, nil)
	srv := rest.NewServer(config.ServerConfig{Port: 0, ShutdownTimeout: time.Second}, handler, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
