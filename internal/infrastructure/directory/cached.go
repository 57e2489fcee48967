package directory

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/infrastructure/cache"
)

// CachedResolver answers from membership snapshots only. A group without a
// snapshot yields elevation.ErrNoSnapshot.
type CachedResolver struct {
	cache  *cache.MembershipCache
	logger *zap.Logger
}

func NewCachedResolver(c *cache.MembershipCache, logger *zap.Logger) *CachedResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedResolver{cache: c, logger: logger.With(zap.String("component", "cached_directory"))}
}

func (r *CachedResolver) ResolveGroupMembers(ctx context.Context, groupName string) ([]string, error) {
	snapshot, err := r.cache.Load(ctx, groupName)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Membership from snapshot",
		zap.String("group", groupName),
		zap.Int("members", len(snapshot.Members)),
		zap.Time("resolved_at", snapshot.ResolvedAt),
	)
	return snapshot.Members, nil
}

// RecordingResolver wraps a live provider and stores every successful
// lookup so later cached runs can reuse it. Failures are passed through and
// never cached; a group the directory no longer knows has its snapshot
// removed.
type RecordingResolver struct {
	next   elevation.GroupMembershipProvider
	cache  *cache.MembershipCache
	logger *zap.Logger
	now    func() time.Time
}

func NewRecordingResolver(next elevation.GroupMembershipProvider, c *cache.MembershipCache, logger *zap.Logger) *RecordingResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingResolver{
		next:   next,
		cache:  c,
		logger: logger.With(zap.String("component", "recording_directory")),
		now:    time.Now,
	}
}

func (r *RecordingResolver) ResolveGroupMembers(ctx context.Context, groupName string) ([]string, error) {
	members, err := r.next.ResolveGroupMembers(ctx, groupName)
	if err != nil {
		if stderrors.Is(err, elevation.ErrGroupNotFound) {
			if delErr := r.cache.Invalidate(ctx, groupName); delErr != nil {
				r.logger.Warn("Failed to drop stale membership snapshot",
					zap.String("group", groupName),
					zap.Error(delErr),
				)
			}
		}
		return nil, err
	}
	if storeErr := r.cache.Store(ctx, groupName, members, r.now()); storeErr != nil {
		r.logger.Warn("Failed to store membership snapshot",
			zap.String("group", groupName),
			zap.Error(storeErr),
		)
	}
	return members, nil
}

var (
	_ elevation.GroupMembershipProvider = (*CachedResolver)(nil)
	_ elevation.GroupMembershipProvider = (*RecordingResolver)(nil)
)
