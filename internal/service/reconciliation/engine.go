package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/infrastructure/telemetry"
	"github.com/securelens/securelens/internal/metrics"
)

const tracerName = "github.com/securelens/securelens/reconciliation"

// EngineConfig tunes a reconciliation run.
type EngineConfig struct {
	MatchPolicy      MatchPolicy
	IncludeInventory bool
	// Workers shards record classification.
	Workers int
	// GroupWorkers bounds concurrent directory lookups.
	GroupWorkers int
	TopUsers     int
	// WindowDays restricts completions to the trailing number of days; zero
	// disables the window.
	WindowDays int
}

// DefaultEngineConfig returns the configuration used when none is given.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MatchPolicy:  MatchExact,
		Workers:      1,
		GroupWorkers: 4,
		TopUsers:     10,
	}
}

// RunSummary carries run-level counters.
type RunSummary struct {
	Settings         int `json:"settings"`
	Groups           int `json:"groups"`
	AuditRecords     int `json:"audit_records"`
	InventoryRecords int `json:"inventory_records"`
	Completions      int `json:"completions"`
	Unmatched        int `json:"unmatched"`
	NonTerminal      int `json:"non_terminal"`
	OutsideWindow    int `json:"outside_window"`
	Corroborated     int `json:"corroborated"`
	Unauthorized     int `json:"unauthorized"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	RunID       uuid.UUID                                        `json:"run_id"`
	GeneratedAt time.Time                                        `json:"generated_at"`
	Window      Window                                           `json:"window"`
	Results     map[string]elevation.ApplicationStatisticsResult `json:"results"`
	Diagnostics []elevation.Diagnostic                           `json:"diagnostics"`
	Summary     RunSummary                                       `json:"summary"`
}

// Engine runs the reconciliation pipeline: fetch records, build the
// membership index, classify and aggregate.
type Engine struct {
	source   elevation.RecordSource
	provider elevation.GroupMembershipProvider
	logger   *zap.Logger
	metrics  *metrics.ReconciliationMetrics
	tracer   trace.Tracer
	config   EngineConfig
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) { e.config = cfg }
}

func WithMetrics(m *metrics.ReconciliationMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the time source used for the window and report
// timestamp.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(source elevation.RecordSource, provider elevation.GroupMembershipProvider, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if source == nil {
		return nil, errors.NewValidationError("NIL_SOURCE", "record source is required")
	}
	if provider == nil {
		return nil, errors.NewValidationError("NIL_PROVIDER", "group membership provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		source:   source,
		provider: provider,
		logger:   logger,
		config:   DefaultEngineConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if _, err := ParseMatchPolicy(string(e.config.MatchPolicy)); err != nil {
		return nil, err
	}

	return e, nil
}

// Run reconciles the given settings against the current records and
// directory state. Data-quality problems are reported as diagnostics in
// the report; only invariant violations and cancellation return an error.
func (e *Engine) Run(ctx context.Context, settings []elevation.Setting) (*Report, error) {
	start := e.now()
	runID := uuid.New()

	ctx, span := e.tracer.Start(ctx, "reconciliation.run",
		trace.WithAttributes(attribute.String("run.id", runID.String())))
	defer span.End()

	logger := telemetry.WithTrace(ctx, e.logger).With(zap.String("run_id", runID.String()))
	collector := elevation.NewDiagnosticCollector()
	sink := telemetry.NewLoggingSink(logger, collector)

	report, err := e.run(ctx, settings, sink, start)
	e.metrics.RecordRun(ctx, time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("Reconciliation failed", zap.Error(err))
		return nil, err
	}

	report.RunID = runID
	report.Diagnostics = collector.Diagnostics()
	for _, d := range report.Diagnostics {
		e.metrics.RecordDiagnostic(ctx, d)
	}
	for _, res := range report.Results {
		e.metrics.RecordResult(ctx, res)
	}

	span.SetAttributes(
		attribute.Int("run.settings", report.Summary.Settings),
		attribute.Int("run.completions", report.Summary.Completions),
	)
	logger.Info("Reconciliation completed",
		zap.Int("settings", report.Summary.Settings),
		zap.Int("audit_records", report.Summary.AuditRecords),
		zap.Int("inventory_records", report.Summary.InventoryRecords),
		zap.Int("completions", report.Summary.Completions),
		zap.Int("unauthorized", report.Summary.Unauthorized),
		zap.Int("diagnostics", len(report.Diagnostics)),
		zap.Duration("duration", time.Since(start)),
	)

	return report, nil
}

func (e *Engine) run(ctx context.Context, settings []elevation.Setting, sink elevation.DiagnosticSink, start time.Time) (*Report, error) {
	registry := elevation.NewRegistry(settings, sink)

	audits, inventory := e.fetch(ctx, sink)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var index *MembershipIndex
	err := e.stage(ctx, "membership", func(ctx context.Context) error {
		var err error
		index, err = BuildMembershipIndex(ctx, registry, e.provider, sink, MembershipOptions{Workers: e.config.GroupWorkers})
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	window := e.window(start)
	matcher, err := NewMatcher(e.config.MatchPolicy, registry)
	if err != nil {
		return nil, err
	}

	var classification Classification
	_ = e.stage(ctx, "classify", func(context.Context) error {
		classifier := NewClassifier(matcher, index, ClassifierOptions{
			IncludeInventory: e.config.IncludeInventory,
			Window:           window,
			Workers:          e.config.Workers,
		})
		classification = classifier.Classify(audits, inventory, sink)
		return nil
	})

	var results map[string]elevation.ApplicationStatisticsResult
	err = e.stage(ctx, "aggregate", func(context.Context) error {
		var err error
		results, err = Aggregate(classification, registry, index, AggregateOptions{TopUsers: e.config.TopUsers})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt: start.UTC(),
		Window:      window,
		Results:     results,
		Summary:     summarize(registry, classification),
	}, nil
}

// fetch loads both record sets. A failing source degrades to an empty
// sequence and an error diagnostic.
func (e *Engine) fetch(ctx context.Context, sink elevation.DiagnosticSink) ([]elevation.AuditRecord, []elevation.InventoryRecord) {
	var audits []elevation.AuditRecord
	_ = e.stage(ctx, "fetch_audit", func(ctx context.Context) error {
		recs, err := e.source.FetchAuditRecords(ctx)
		if err != nil {
			sink.Emit(elevation.Error(elevation.KindSourceFailure, "audit",
				fmt.Sprintf("failed to fetch audit records: %v", err)))
			return nil
		}
		audits = recs
		return nil
	})
	if len(audits) == 0 {
		sink.Emit(elevation.Info(elevation.KindEmptySource, "audit", "no audit records available"))
	}
	e.metrics.RecordRecords("audit", len(audits))

	var inventory []elevation.InventoryRecord
	if e.config.IncludeInventory {
		_ = e.stage(ctx, "fetch_inventory", func(ctx context.Context) error {
			recs, err := e.source.FetchInventoryRecords(ctx)
			if err != nil {
				sink.Emit(elevation.Error(elevation.KindSourceFailure, "inventory",
					fmt.Sprintf("failed to fetch inventory records: %v", err)))
				return nil
			}
			inventory = recs
			return nil
		})
		e.metrics.RecordRecords("inventory", len(inventory))
	}

	return audits, inventory
}

// stage runs fn inside a span and records its duration.
func (e *Engine) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartStageSpan(ctx, e.tracer, name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	e.metrics.RecordStage(name, time.Since(started))
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

func (e *Engine) window(now time.Time) Window {
	if e.config.WindowDays <= 0 {
		return Window{}
	}
	return Window{
		Start: now.UTC().AddDate(0, 0, -e.config.WindowDays),
		End:   now.UTC().Add(time.Nanosecond),
	}
}

func summarize(registry *elevation.Registry, c Classification) RunSummary {
	s := RunSummary{
		Settings:         registry.Len(),
		Groups:           len(registry.GroupNames()),
		AuditRecords:     c.AuditRecords,
		InventoryRecords: c.InventoryRecords,
		Unmatched:        c.Unmatched,
		NonTerminal:      c.NonTerminal,
		OutsideWindow:    c.OutsideWindow,
		Corroborated:     c.Corroborated,
	}
	for _, f := range c.Completed {
		s.Completions += f.Occurrences
	}
	for _, n := range c.Unauthorized {
		s.Unauthorized += n
	}
	return s
}

// Compute runs index construction, classification and aggregation over
// in-memory inputs without tracing or metrics.
func Compute(
	ctx context.Context,
	settings []elevation.Setting,
	audits []elevation.AuditRecord,
	inventory []elevation.InventoryRecord,
	provider elevation.GroupMembershipProvider,
	cfg EngineConfig,
	sink elevation.DiagnosticSink,
) (map[string]elevation.ApplicationStatisticsResult, error) {
	registry := elevation.NewRegistry(settings, sink)

	index, err := BuildMembershipIndex(ctx, registry, provider, sink, MembershipOptions{Workers: cfg.GroupWorkers})
	if err != nil {
		return nil, err
	}
	matcher, err := NewMatcher(cfg.MatchPolicy, registry)
	if err != nil {
		return nil, err
	}

	classification := NewClassifier(matcher, index, ClassifierOptions{
		IncludeInventory: cfg.IncludeInventory,
		Workers:          cfg.Workers,
	}).Classify(audits, inventory, sink)

	return Aggregate(classification, registry, index, AggregateOptions{TopUsers: cfg.TopUsers})
}
