package service

import (
	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/infrastructure/config"
	"github.com/securelens/securelens/internal/metrics"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

// ServiceFactories builds the reconciliation services from configuration
// and already-wired infrastructure.
type ServiceFactories struct {
	source   elevation.RecordSource
	provider elevation.GroupMembershipProvider
	metrics  *metrics.ReconciliationMetrics
	logger   *zap.Logger
}

// NewServiceFactories creates a new service factory collection. m may be nil.
func NewServiceFactories(source elevation.RecordSource, provider elevation.GroupMembershipProvider, m *metrics.ReconciliationMetrics, logger *zap.Logger) *ServiceFactories {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceFactories{
		source:   source,
		provider: provider,
		metrics:  m,
		logger:   logger,
	}
}

// EngineConfig translates the reconciliation section of the configuration.
func EngineConfig(rc config.ReconciliationConfig) (reconciliation.EngineConfig, error) {
	policy, err := reconciliation.ParseMatchPolicy(rc.MatchingPolicy)
	if err != nil {
		return reconciliation.EngineConfig{}, err
	}
	return reconciliation.EngineConfig{
		MatchPolicy:      policy,
		IncludeInventory: rc.IncludeInventory,
		Workers:          rc.Workers,
		GroupWorkers:     rc.GroupWorkers,
		TopUsers:         rc.TopUsers,
		WindowDays:       rc.WindowDays,
	}, nil
}

// CreateEngine creates a reconciliation engine
func (f *ServiceFactories) CreateEngine(rc config.ReconciliationConfig) (*reconciliation.Engine, error) {
	cfg, err := EngineConfig(rc)
	if err != nil {
		return nil, err
	}

	opts := []reconciliation.EngineOption{reconciliation.WithConfig(cfg)}
	if f.metrics != nil {
		opts = append(opts, reconciliation.WithMetrics(f.metrics))
	}
	return reconciliation.NewEngine(f.source, f.provider, f.logger, opts...)
}

// CreateScheduler creates a scheduler running the configured settings
// against a freshly built engine.
func (f *ServiceFactories) CreateScheduler(cfg *config.Config, store reconciliation.ReportStore) (*reconciliation.Scheduler, error) {
	engine, err := f.CreateEngine(cfg.Reconciliation)
	if err != nil {
		return nil, err
	}
	return reconciliation.NewScheduler(engine, cfg.ElevationSettings(), store, f.logger), nil
}
