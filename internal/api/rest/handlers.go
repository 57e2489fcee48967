package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
	domainErrors "github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/reporting"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

// Runner triggers a reconciliation run.
type Runner interface {
	RunOnce(ctx context.Context) (*reconciliation.Report, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the statistics API.
type Handler struct {
	store  reconciliation.ReportStore
	runner Runner
	checks map[string]HealthCheck
	logger *zap.Logger
}

func NewHandler(store reconciliation.ReportStore, runner Runner, checks map[string]HealthCheck, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, runner: runner, checks: checks, logger: logger}
}

// SettingStatistics is one setting's result as exposed by the API.
type SettingStatistics struct {
	elevation.ApplicationStatisticsResult
	CoveragePct *string `json:"coverage_pct"`
}

// StatisticsResponse is the body of GET /api/v1/statistics.
type StatisticsResponse struct {
	RunID       uuid.UUID                 `json:"run_id"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Window      reconciliation.Window     `json:"window"`
	Summary     reconciliation.RunSummary `json:"summary"`
	Settings    []SettingStatistics       `json:"settings"`
	Diagnostics []elevation.Diagnostic    `json:"diagnostics"`
}

// RunResponse is the body of POST /api/v1/runs.
type RunResponse struct {
	RunID       uuid.UUID                 `json:"run_id"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Summary     reconciliation.RunSummary `json:"summary"`
	Diagnostics int                       `json:"diagnostics"`
}

func toSettingStatistics(res elevation.ApplicationStatisticsResult) SettingStatistics {
	out := SettingStatistics{ApplicationStatisticsResult: res}
	if pct, ok := reporting.Coverage(res); ok {
		s := pct.StringFixed(1)
		out.CoveragePct = &s
	}
	return out
}

// handleHealth runs every registered check.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": results,
	})
}

// handleListStatistics returns every setting of the latest run. The sort
// query parameter accepts name (default) or completions.
func (h *Handler) handleListStatistics(w http.ResponseWriter, r *http.Request) {
	order := reconciliation.SortByName
	switch strings.ToLower(r.URL.Query().Get("sort")) {
	case "", string(reconciliation.SortByName):
	case string(reconciliation.SortByCompletions):
		order = reconciliation.SortByCompletions
	default:
		handleError(w, r, h.logger, domainErrors.NewValidationError("INVALID_SORT", "sort must be name or completions"))
		return
	}

	report, err := h.store.LatestReport(r.Context())
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	sorted := reconciliation.SortedResults(report.Results, order)
	settings := make([]SettingStatistics, len(sorted))
	for i, res := range sorted {
		settings[i] = toSettingStatistics(res)
	}
	diagnostics := report.Diagnostics
	if diagnostics == nil {
		diagnostics = []elevation.Diagnostic{}
	}

	writeSuccess(w, r, http.StatusOK, StatisticsResponse{
		RunID:       report.RunID,
		GeneratedAt: report.GeneratedAt,
		Window:      report.Window,
		Summary:     report.Summary,
		Settings:    settings,
		Diagnostics: diagnostics,
	})
}

// handleGetStatistics returns one setting, matched case-insensitively.
func (h *Handler) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("setting")
	report, err := h.store.LatestReport(r.Context())
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	key := elevation.SettingKey(name)
	for settingName, res := range report.Results {
		if elevation.SettingKey(settingName) == key {
			writeSuccess(w, r, http.StatusOK, toSettingStatistics(res))
			return
		}
	}
	handleError(w, r, h.logger, domainErrors.NewNotFoundError("setting "+name))
}

// handleTriggerRun runs a reconciliation synchronously.
func (h *Handler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, r, http.StatusServiceUnavailable, "RUNS_DISABLED", "runs cannot be triggered on this server", false)
		return
	}

	report, err := h.runner.RunOnce(r.Context())
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, r, http.StatusCreated, RunResponse{
		RunID:       report.RunID,
		GeneratedAt: report.GeneratedAt,
		Summary:     report.Summary,
		Diagnostics: len(report.Diagnostics),
	})
}
