package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/securelens/securelens/internal/domain/elevation"
)

// GroupMembershipProvider mock
type GroupMembershipProvider struct {
	mock.Mock
}

func (m *GroupMembershipProvider) ResolveGroupMembers(ctx context.Context, groupName string) ([]string, error) {
	args := m.Called(ctx, groupName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// RecordSource mock
type RecordSource struct {
	mock.Mock
}

func (m *RecordSource) FetchAuditRecords(ctx context.Context) ([]elevation.AuditRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]elevation.AuditRecord), args.Error(1)
}

func (m *RecordSource) FetchInventoryRecords(ctx context.Context) ([]elevation.InventoryRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]elevation.InventoryRecord), args.Error(1)
}

// StaticDirectory is an in-memory directory keyed case-insensitively by
// group name. Groups absent from the map are reported as not found; groups
// listed in Failures return that error instead. It counts lookups per
// group and is safe for concurrent use.
type StaticDirectory struct {
	Groups   map[string][]string
	Failures map[string]error

	mu    sync.Mutex
	calls map[string]int
}

func NewStaticDirectory(groups map[string][]string) *StaticDirectory {
	return &StaticDirectory{Groups: groups, Failures: map[string]error{}}
}

func (d *StaticDirectory) ResolveGroupMembers(_ context.Context, groupName string) ([]string, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[strings.ToLower(groupName)]++
	d.mu.Unlock()

	for name, err := range d.Failures {
		if strings.EqualFold(name, groupName) {
			return nil, err
		}
	}
	for name, members := range d.Groups {
		if strings.EqualFold(name, groupName) {
			return append([]string(nil), members...), nil
		}
	}
	return nil, elevation.ErrGroupNotFound
}

// Calls returns how many times the group was looked up.
func (d *StaticDirectory) Calls(groupName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[strings.ToLower(groupName)]
}

// TotalCalls returns the number of lookups across all groups.
func (d *StaticDirectory) TotalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.calls {
		total += n
	}
	return total
}

// StaticSource serves fixed record slices.
type StaticSource struct {
	Audits    []elevation.AuditRecord
	Inventory []elevation.InventoryRecord
	AuditErr  error
	InvErr    error
}

func (s *StaticSource) FetchAuditRecords(context.Context) ([]elevation.AuditRecord, error) {
	if s.AuditErr != nil {
		return nil, s.AuditErr
	}
	return s.Audits, nil
}

func (s *StaticSource) FetchInventoryRecords(context.Context) ([]elevation.InventoryRecord, error) {
	if s.InvErr != nil {
		return nil, s.InvErr
	}
	return s.Inventory, nil
}
