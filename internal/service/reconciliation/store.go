package reconciliation

import (
	"context"
	"sync"

	"github.com/securelens/securelens/internal/domain/errors"
)

// ReportStore keeps reconciliation reports for later retrieval.
type ReportStore interface {
	SaveReport(ctx context.Context, report *Report) error
	LatestReport(ctx context.Context) (*Report, error)
}

// MemoryStore holds the most recent reports in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	reports []*Report
	limit   int
}

// NewMemoryStore keeps at most limit reports; limit <= 0 keeps one.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 1
	}
	return &MemoryStore{limit: limit}
}

func (s *MemoryStore) SaveReport(_ context.Context, report *Report) error {
	if report == nil {
		return errors.NewValidationError("NIL_REPORT", "report is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	if len(s.reports) > s.limit {
		s.reports = s.reports[len(s.reports)-s.limit:]
	}
	return nil
}

func (s *MemoryStore) LatestReport(_ context.Context) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.reports) == 0 {
		return nil, errors.NewNotFoundError("reconciliation report")
	}
	return s.reports[len(s.reports)-1], nil
}

// History returns stored reports, oldest first.
func (s *MemoryStore) History() []*Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Report(nil), s.reports...)
}

// MultiStore saves to every store and reads from the first one.
type MultiStore []ReportStore

func (m MultiStore) SaveReport(ctx context.Context, report *Report) error {
	for _, s := range m {
		if err := s.SaveReport(ctx, report); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiStore) LatestReport(ctx context.Context) (*Report, error) {
	if len(m) == 0 {
		return nil, errors.NewNotFoundError("reconciliation report")
	}
	return m[0].LatestReport(ctx)
}
