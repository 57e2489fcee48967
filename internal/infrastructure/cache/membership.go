package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
)

// MembershipSnapshot is the cached member list of one directory group.
type MembershipSnapshot struct {
	Group      string    `json:"group"`
	Members    []string  `json:"members"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// MembershipCache stores group membership snapshots so cached runs can be
// reconciled without a directory connection.
type MembershipCache struct {
	cache  Cache
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewMembershipCache wraps a Cache. An empty prefix uses DefaultKeyPrefix;
// a zero ttl keeps snapshots until overwritten.
func NewMembershipCache(c Cache, prefix string, ttl time.Duration, logger *zap.Logger) *MembershipCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipCache{cache: c, prefix: prefix, ttl: ttl, logger: logger}
}

func (m *MembershipCache) key(group string) string {
	return m.prefix + GroupPrefix + elevation.GroupKey(group)
}

// Store saves the members of a group.
func (m *MembershipCache) Store(ctx context.Context, group string, members []string, resolvedAt time.Time) error {
	snapshot := MembershipSnapshot{
		Group:      group,
		Members:    members,
		ResolvedAt: resolvedAt.UTC(),
	}
	if snapshot.Members == nil {
		snapshot.Members = []string{}
	}
	if err := m.cache.SetJSON(ctx, m.key(group), snapshot, m.ttl); err != nil {
		return fmt.Errorf("storing membership of %q: %w", group, err)
	}
	return nil
}

// Load returns the snapshot of a group. A group that was never stored
// yields an error wrapping elevation.ErrNoSnapshot.
func (m *MembershipCache) Load(ctx context.Context, group string) (*MembershipSnapshot, error) {
	var snapshot MembershipSnapshot
	if err := m.cache.GetJSON(ctx, m.key(group), &snapshot); err != nil {
		var notFound ErrCacheKeyNotFound
		if stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("group %q: %w", group, elevation.ErrNoSnapshot)
		}
		return nil, fmt.Errorf("loading membership of %q: %w", group, err)
	}
	return &snapshot, nil
}

// Invalidate removes a stored snapshot.
func (m *MembershipCache) Invalidate(ctx context.Context, group string) error {
	return m.cache.Delete(ctx, m.key(group))
}
