package reconciliation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
)

// Scheduler runs the engine on demand or on a fixed interval and keeps the
// resulting reports in a store. At most one run is in flight at a time.
type Scheduler struct {
	engine   *Engine
	settings []elevation.Setting
	store    ReportStore
	logger   *zap.Logger

	mu sync.Mutex
}

func NewScheduler(engine *Engine, settings []elevation.Setting, store ReportStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:   engine,
		settings: settings,
		store:    store,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// RunOnce performs a single run and stores its report. It fails with a
// conflict error while another run is active.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.mu.TryLock() {
		return nil, errors.NewConflictError("RUN_IN_PROGRESS", "a reconciliation run is already in progress")
	}
	defer s.mu.Unlock()

	report, err := s.engine.Run(ctx, s.settings)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.SaveReport(ctx, report); err != nil {
			s.logger.Error("Failed to store report", zap.String("run_id", report.RunID.String()), zap.Error(err))
			return report, err
		}
	}
	return report, nil
}

// Start runs immediately and then every interval until ctx is done. A
// non-positive interval performs only the first run.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.tick(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		if errors.IsType(err, errors.ErrorTypeConflict) {
			s.logger.Debug("Skipping scheduled run", zap.Error(err))
			return
		}
		s.logger.Error("Scheduled reconciliation failed", zap.Error(err))
	}
}
