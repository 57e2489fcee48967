// Package records provides the RecordSource implementations used by the
// reconciliation engine: a live source backed by the AdminByRequest API and
// a cached source reading the JSON snapshots the live source leaves behind.
package records

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/infrastructure/adminbyrequest"
	"github.com/securelens/securelens/internal/infrastructure/cache"
	"github.com/securelens/securelens/internal/infrastructure/config"
)

// APIClient is the part of the AdminByRequest client the live source needs.
type APIClient interface {
	FetchAuditLogs(ctx context.Context) ([]adminbyrequest.AuditLogEntry, error)
	FetchInventory(ctx context.Context) ([]adminbyrequest.InventoryEntry, error)
}

// Paths locates the snapshot files.
type Paths struct {
	Audit     string
	Inventory string
}

// PathsFromConfig resolves snapshot paths from the cache section.
func PathsFromConfig(cfg config.CacheConfig) Paths {
	return Paths{Audit: cfg.AuditPath(), Inventory: cfg.InventoryPath()}
}

// LiveSource fetches from the API and refreshes the snapshot files on every
// successful fetch.
type LiveSource struct {
	client APIClient
	store  *cache.FileStore
	paths  Paths
	logger *zap.Logger
}

func NewLiveSource(client APIClient, store *cache.FileStore, paths Paths, logger *zap.Logger) *LiveSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveSource{
		client: client,
		store:  store,
		paths:  paths,
		logger: logger.With(zap.String("component", "live_source")),
	}
}

func (s *LiveSource) FetchAuditRecords(ctx context.Context) ([]elevation.AuditRecord, error) {
	entries, err := s.client.FetchAuditLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching audit logs: %w", err)
	}
	s.persist(s.paths.Audit, entries)
	return adminbyrequest.AuditRecords(entries), nil
}

func (s *LiveSource) FetchInventoryRecords(ctx context.Context) ([]elevation.InventoryRecord, error) {
	entries, err := s.client.FetchInventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching inventory: %w", err)
	}
	s.persist(s.paths.Inventory, entries)
	return adminbyrequest.InventoryRecords(entries), nil
}

// Refresh fetches both feeds and writes the snapshots, failing if either
// fetch or write fails.
func (s *LiveSource) Refresh(ctx context.Context) (audits, inventory int, err error) {
	auditEntries, err := s.client.FetchAuditLogs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching audit logs: %w", err)
	}
	inventoryEntries, err := s.client.FetchInventory(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching inventory: %w", err)
	}
	if s.store == nil {
		return len(auditEntries), len(inventoryEntries), nil
	}
	if err := s.store.Save(s.paths.Audit, auditEntries); err != nil {
		return 0, 0, err
	}
	if err := s.store.Save(s.paths.Inventory, inventoryEntries); err != nil {
		return 0, 0, err
	}

	s.logger.Info("Snapshots refreshed",
		zap.Int("audit_entries", len(auditEntries)),
		zap.Int("inventory_entries", len(inventoryEntries)),
	)
	return len(auditEntries), len(inventoryEntries), nil
}

// persist writes a snapshot; a write failure does not fail the fetch.
func (s *LiveSource) persist(path string, v any) {
	if s.store == nil || path == "" {
		return
	}
	if err := s.store.Save(path, v); err != nil {
		s.logger.Warn("Failed to write snapshot", zap.String("path", path), zap.Error(err))
	}
}

// CachedSource replays previously saved API payloads. A missing snapshot is
// an empty sequence.
type CachedSource struct {
	store  *cache.FileStore
	paths  Paths
	logger *zap.Logger
}

func NewCachedSource(store *cache.FileStore, paths Paths, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{
		store:  store,
		paths:  paths,
		logger: logger.With(zap.String("component", "cached_source")),
	}
}

func (s *CachedSource) FetchAuditRecords(ctx context.Context) ([]elevation.AuditRecord, error) {
	var entries []adminbyrequest.AuditLogEntry
	if err := s.load(s.paths.Audit, &entries); err != nil {
		return nil, err
	}
	return adminbyrequest.AuditRecords(entries), nil
}

func (s *CachedSource) FetchInventoryRecords(ctx context.Context) ([]elevation.InventoryRecord, error) {
	var entries []adminbyrequest.InventoryEntry
	if err := s.load(s.paths.Inventory, &entries); err != nil {
		return nil, err
	}
	return adminbyrequest.InventoryRecords(entries), nil
}

func (s *CachedSource) load(path string, dest any) error {
	found, err := s.store.Load(path, dest)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Info("No cached snapshot", zap.String("path", path))
	}
	return nil
}

var (
	_ elevation.RecordSource = (*LiveSource)(nil)
	_ elevation.RecordSource = (*CachedSource)(nil)
)
