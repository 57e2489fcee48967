package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/infrastructure/telemetry"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

// ReportRepository persists reconciliation reports in PostgreSQL.
type ReportRepository struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewReportRepository creates a new PostgreSQL report repository
func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{
		db:     db,
		tracer: otel.Tracer("github.com/securelens/securelens/database"),
	}
}

// SaveReport stores a run and its per-setting results in one transaction.
func (r *ReportRepository) SaveReport(ctx context.Context, report *reconciliation.Report) error {
	if report == nil {
		return errors.NewValidationError("NIL_REPORT", "report is required")
	}
	ctx, span := telemetry.StartDatabaseSpan(ctx, r.tracer, "INSERT", "reconciliation_runs")
	defer span.End()

	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return errors.NewInternalError("failed to marshal summary").WithCause(err)
	}
	diagnostics := report.Diagnostics
	if diagnostics == nil {
		diagnostics = []elevation.Diagnostic{}
	}
	diagJSON, err := json.Marshal(diagnostics)
	if err != nil {
		return errors.NewInternalError("failed to marshal diagnostics").WithCause(err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return errors.NewInternalError("failed to begin transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO reconciliation_runs (id, generated_at, window_start, window_end, summary, diagnostics)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, report.RunID, report.GeneratedAt, nullableTime(report.Window.Start), nullableTime(report.Window.End),
		summary, diagJSON)
	if err != nil {
		telemetry.RecordError(span, err)
		return errors.NewInternalError("failed to save run").WithCause(err)
	}

	batch := &pgx.Batch{}
	for _, res := range report.Results {
		byDate, err := json.Marshal(nonNilDates(res.CompletionsByDate))
		if err != nil {
			return errors.NewInternalError("failed to marshal date buckets").WithCause(err)
		}
		topUsers := res.TopUsers
		if topUsers == nil {
			topUsers = []elevation.UserCompletions{}
		}
		topJSON, err := json.Marshal(topUsers)
		if err != nil {
			return errors.NewInternalError("failed to marshal top users").WithCause(err)
		}
		batch.Queue(`
			INSERT INTO setting_statistics (
				run_id, setting_name, total_completions, unique_users,
				unauthorized_attempts, authorized_members, completions_by_date,
				top_users, first_completion, last_completion
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, report.RunID, res.SettingName, res.TotalCompletions, res.UniqueUserCount,
			res.UnauthorizedAttempts, res.AuthorizedMembers, byDate, topJSON,
			res.FirstCompletion, res.LastCompletion)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			telemetry.RecordError(span, err)
			return errors.NewInternalError("failed to save setting statistics").WithCause(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		telemetry.RecordError(span, err)
		return errors.NewInternalError("failed to commit report").WithCause(err)
	}
	return nil
}

// LatestReport loads the most recently generated run.
func (r *ReportRepository) LatestReport(ctx context.Context) (*reconciliation.Report, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, r.tracer, "SELECT", "reconciliation_runs")
	defer span.End()

	var (
		report      reconciliation.Report
		windowStart *time.Time
		windowEnd   *time.Time
		summary     []byte
		diagnostics []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, generated_at, window_start, window_end, summary, diagnostics
		FROM reconciliation_runs
		ORDER BY generated_at DESC
		LIMIT 1
	`).Scan(&report.RunID, &report.GeneratedAt, &windowStart, &windowEnd, &summary, &diagnostics)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("reconciliation report")
		}
		telemetry.RecordError(span, err)
		return nil, errors.NewInternalError("failed to get latest run").WithCause(err)
	}

	report.GeneratedAt = report.GeneratedAt.UTC()
	if windowStart != nil {
		report.Window.Start = windowStart.UTC()
	}
	if windowEnd != nil {
		report.Window.End = windowEnd.UTC()
	}
	if err := json.Unmarshal(summary, &report.Summary); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal summary").WithCause(err)
	}
	if err := json.Unmarshal(diagnostics, &report.Diagnostics); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal diagnostics").WithCause(err)
	}

	results, err := r.settingStatistics(ctx, report.RunID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	report.Results = results
	return &report, nil
}

func (r *ReportRepository) settingStatistics(ctx context.Context, runID uuid.UUID) (map[string]elevation.ApplicationStatisticsResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT setting_name, total_completions, unique_users, unauthorized_attempts,
		       authorized_members, completions_by_date, top_users,
		       first_completion, last_completion
		FROM setting_statistics
		WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, errors.NewInternalError("failed to query setting statistics").WithCause(err)
	}
	defer rows.Close()

	results := make(map[string]elevation.ApplicationStatisticsResult)
	for rows.Next() {
		var (
			res      elevation.ApplicationStatisticsResult
			byDate   []byte
			topUsers []byte
		)
		if err := rows.Scan(&res.SettingName, &res.TotalCompletions, &res.UniqueUserCount,
			&res.UnauthorizedAttempts, &res.AuthorizedMembers, &byDate, &topUsers,
			&res.FirstCompletion, &res.LastCompletion); err != nil {
			return nil, errors.NewInternalError("failed to scan setting statistics").WithCause(err)
		}
		if err := json.Unmarshal(byDate, &res.CompletionsByDate); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal date buckets").WithCause(err)
		}
		if err := json.Unmarshal(topUsers, &res.TopUsers); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal top users").WithCause(err)
		}
		if len(res.TopUsers) == 0 {
			res.TopUsers = nil
		}
		res.FirstCompletion = utcPtr(res.FirstCompletion)
		res.LastCompletion = utcPtr(res.LastCompletion)
		results[res.SettingName] = res
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to read setting statistics").WithCause(err)
	}
	return results, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNilDates(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

var _ reconciliation.ReportStore = (*ReportRepository)(nil)
