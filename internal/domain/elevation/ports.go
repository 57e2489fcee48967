package elevation

import (
	"context"
	stderrors "errors"
)

// ErrGroupNotFound is returned by providers when a directory group does not
// exist.
var ErrGroupNotFound = stderrors.New("group not found")

// ErrNoSnapshot is returned by cached providers when no membership snapshot
// was stored for a group. The group itself may well exist.
var ErrNoSnapshot = stderrors.New("no cached membership snapshot")

// GroupMembershipProvider resolves the usernames belonging to a directory
// group. Live and cached implementations share this contract.
//
// A group that does not exist is reported with an error wrapping
// ErrGroupNotFound; callers degrade any error to an empty member set.
type GroupMembershipProvider interface {
	ResolveGroupMembers(ctx context.Context, groupName string) ([]string, error)
}

// RecordSource supplies already-materialized audit and inventory records.
// An empty slice is a valid "no data available" result.
type RecordSource interface {
	FetchAuditRecords(ctx context.Context) ([]AuditRecord, error)
	FetchInventoryRecords(ctx context.Context) ([]InventoryRecord, error)
}
