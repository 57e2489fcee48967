package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/api/rest"
	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/infrastructure/adminbyrequest"
	"github.com/securelens/securelens/internal/infrastructure/cache"
	"github.com/securelens/securelens/internal/infrastructure/config"
	"github.com/securelens/securelens/internal/infrastructure/database"
	"github.com/securelens/securelens/internal/infrastructure/directory"
	"github.com/securelens/securelens/internal/infrastructure/records"
	"github.com/securelens/securelens/internal/infrastructure/telemetry"
	"github.com/securelens/securelens/internal/metrics"
	"github.com/securelens/securelens/internal/reporting"
	"github.com/securelens/securelens/internal/service"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

// app holds the wired components for one invocation.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Provider
	registry  *prometheus.Registry
	metrics   *metrics.ReconciliationMetrics

	redis       cache.Cache
	memberships *cache.MembershipCache
	pool        *pgxpool.Pool

	live      *records.LiveSource
	source    elevation.RecordSource
	directory elevation.GroupMembershipProvider
	store     reconciliation.ReportStore
	scheduler *reconciliation.Scheduler
	settings  []elevation.Setting
}

func newApp(ctx context.Context, opts *options) (a *app, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.cached {
		cfg.Mode = config.ModeCached
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a = &app{cfg: cfg, logger: logger, settings: cfg.ElevationSettings()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	run := telemetry.RunAttributes{Version: version, Mode: cfg.Mode, Settings: len(a.settings)}
	if a.telemetry, err = telemetry.InitializeOpenTelemetry(ctx, cfg.Telemetry, run); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	otelMetrics, err := metrics.NewRegistry("github.com/securelens/securelens")
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	a.metrics = metrics.NewReconciliationMetrics(a.registry, otelMetrics)

	if cfg.Redis.Enabled {
		if a.redis, err = cache.NewRedisCache(&cfg.Redis, logger); err != nil {
			return nil, err
		}
		a.memberships = cache.NewMembershipCache(a.redis, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger)
	}

	if err := a.wireSources(); err != nil {
		return nil, err
	}
	if err := a.wireStore(ctx); err != nil {
		return nil, err
	}

	factories := service.NewServiceFactories(a.source, a.directory, a.metrics, logger)
	if a.scheduler, err = factories.CreateScheduler(cfg, a.store); err != nil {
		return nil, err
	}

	logger.Info("SecureLens initialized",
		zap.String("version", version),
		zap.String("mode", cfg.Mode),
		zap.Int("settings", len(a.settings)),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("database", cfg.Database.Enabled),
	)
	return a, nil
}

// wireSources picks record and membership providers. Cached mode replays
// API snapshots; membership comes from redis snapshots when redis is
// enabled and from the directory command otherwise.
func (a *app) wireSources() error {
	store := cache.NewFileStore(a.logger)
	paths := records.PathsFromConfig(a.cfg.Cache)

	if a.cfg.Mode == config.ModeCached {
		a.source = records.NewCachedSource(store, paths, a.logger)
	} else {
		ab := a.cfg.AdminByRequest
		client, err := adminbyrequest.NewClient(adminbyrequest.Config{
			BaseURL:      ab.BaseURL,
			APIKey:       ab.APIKey,
			LookbackDays: ab.LookbackDays,
			Status:       ab.Status,
			Take:         ab.Take,
			WantGroups:   ab.WantGroups,
			MaxPages:     ab.MaxPages,
			Timeout:      ab.Timeout,
			RateLimitRPS: ab.RateLimitRPS,
		}, a.logger)
		if err != nil {
			return err
		}
		a.live = records.NewLiveSource(client, store, paths, a.logger)
		a.source = a.live
	}

	if a.cfg.Mode == config.ModeCached && a.memberships != nil {
		a.directory = directory.NewCachedResolver(a.memberships, a.logger)
		return nil
	}

	resolver, err := directory.NewCommandResolver(a.cfg.Directory, a.logger)
	if err != nil {
		return err
	}
	a.directory = resolver
	if a.memberships != nil {
		a.directory = directory.NewRecordingResolver(resolver, a.memberships, a.logger)
	}
	return nil
}

func (a *app) wireStore(ctx context.Context) error {
	memory := reconciliation.NewMemoryStore(10)
	a.store = memory
	if !a.cfg.Database.Enabled {
		return nil
	}

	pool, err := database.NewPool(ctx, &a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.pool = pool

	if _, err := database.Migrate(a.cfg.Database.URL, a.logger); err != nil {
		return err
	}
	repo := database.NewReportRepository(pool)
	a.store = reconciliation.MultiStore{memory, repo}
	return nil
}

// report runs once and writes the report in the requested format.
func (a *app) report(ctx context.Context, opts *options, stdout io.Writer) error {
	format, err := reporting.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	report, err := a.scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}

	out := stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if format == reporting.FormatConsole {
		renderer := reporting.NewConsoleRenderer()
		renderer.ShowTrend = opts.trend
		if opts.sort == string(reconciliation.SortByCompletions) {
			renderer.Order = reconciliation.SortByCompletions
		}
		return renderer.Render(out, report)
	}
	return reporting.Write(out, format, report)
}

// fetch refreshes the API snapshots and, with redis enabled, the
// membership snapshots of every configured group.
func (a *app) fetch(ctx context.Context) error {
	if a.live == nil {
		return fmt.Errorf("fetch requires live mode")
	}

	audits, inventory, err := a.live.Refresh(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Fetched records", zap.Int("audit_entries", audits), zap.Int("inventory_entries", inventory))

	if a.memberships == nil {
		return nil
	}
	registry := elevation.NewRegistry(a.settings, telemetry.NewLoggingSink(a.logger, nil))
	for _, group := range registry.GroupNames() {
		if _, err := a.directory.ResolveGroupMembers(ctx, group); err != nil {
			a.logger.Warn("Could not snapshot group", zap.String("group", group), zap.Error(err))
		}
	}
	return nil
}

// serve refreshes reports periodically and exposes them over HTTP until ctx
// is cancelled.
func (a *app) serve(ctx context.Context) error {
	go a.scheduler.Start(ctx, a.cfg.Server.RefreshInterval)

	checks := map[string]rest.HealthCheck{}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			_, err := a.redis.Exists(ctx, "healthz")
			return err
		}
	}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}

	handler := rest.NewHandler(a.store, a.scheduler, checks, a.logger)
	return rest.NewServer(a.cfg.Server, handler, a.metrics, a.logger).ListenAndServe(ctx)
}

// migrate applies pending schema migrations and prints the schema version.
func (a *app) migrate(stdout io.Writer) error {
	if !a.cfg.Database.Enabled {
		return fmt.Errorf("migrate requires database.enabled")
	}
	version, err := database.Migrate(a.cfg.Database.URL, a.logger)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "schema version %d\n", version)
	return err
}

// Close releases every opened resource.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(context.Background())
	}
	_ = a.logger.Sync()
}
