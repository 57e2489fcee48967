package reconciliation

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
)

// MembershipIndex maps each setting to the normalized usernames authorized
// for it. It is built once per run and read-only afterwards.
type MembershipIndex struct {
	members map[string]map[string]struct{}
}

// MembershipOptions tunes index construction.
type MembershipOptions struct {
	// Workers bounds concurrent group resolutions. Values below 2 resolve
	// sequentially.
	Workers int
}

type groupResolution struct {
	members []string
	err     error
}

// BuildMembershipIndex resolves every distinct group referenced by the
// registry exactly once and unions the members per setting. Resolution
// failures degrade the group to an empty member set and are reported to
// sink as warnings.
func BuildMembershipIndex(
	ctx context.Context,
	registry *elevation.Registry,
	provider elevation.GroupMembershipProvider,
	sink elevation.DiagnosticSink,
	opts MembershipOptions,
) (*MembershipIndex, error) {
	if registry == nil {
		return nil, errors.NewValidationError("NIL_REGISTRY", "settings registry is required")
	}
	if provider == nil {
		return nil, errors.NewValidationError("NIL_PROVIDER", "group membership provider is required")
	}
	if sink == nil {
		sink = elevation.DiscardDiagnostics
	}

	groups := registry.GroupNames()
	results := resolveGroups(ctx, provider, groups, opts.Workers)

	resolved := make(map[string][]string, len(groups))
	failed := 0
	for i, group := range groups {
		res := results[i]
		if res.err != nil {
			failed++
			switch {
			case stderrors.Is(res.err, elevation.ErrGroupNotFound):
				sink.Emit(elevation.Warning(elevation.KindGroupNotFound, group,
					fmt.Sprintf("group %q not found in directory", group)))
			case stderrors.Is(res.err, elevation.ErrNoSnapshot):
				sink.Emit(elevation.Warning(elevation.KindNoSnapshot, group,
					fmt.Sprintf("no cached snapshot for group %q; run fetch mode to record one", group)))
			default:
				sink.Emit(elevation.Warning(elevation.KindGroupUnresolved, group,
					fmt.Sprintf("failed to resolve members of group %q: %v", group, res.err)))
			}
			continue
		}
		resolved[elevation.GroupKey(group)] = res.members
	}

	if failed > 0 {
		sink.Emit(elevation.Warning(elevation.KindGroupSummary, "",
			fmt.Sprintf("%d of %d groups not found or had errors", failed, len(groups))))
	}

	index := &MembershipIndex{members: make(map[string]map[string]struct{}, registry.Len())}
	for _, setting := range registry.Settings() {
		set := make(map[string]struct{})
		for _, group := range setting.AuthorizedGroups {
			for _, user := range resolved[elevation.GroupKey(group)] {
				if u := elevation.NormalizeUser(user); u != "" {
					set[u] = struct{}{}
				}
			}
		}
		index.members[setting.Key()] = set
	}

	return index, nil
}

// resolveGroups queries each group once. Results are index-aligned with
// groups so the outcome does not depend on completion order.
func resolveGroups(ctx context.Context, provider elevation.GroupMembershipProvider, groups []string, workers int) []groupResolution {
	results := make([]groupResolution, len(groups))

	if workers < 2 || len(groups) < 2 {
		for i, g := range groups {
			members, err := provider.ResolveGroupMembers(ctx, g)
			results[i] = groupResolution{members: members, err: err}
		}
		return results
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, g string) {
			defer wg.Done()
			defer func() { <-sem }()
			members, err := provider.ResolveGroupMembers(ctx, g)
			results[i] = groupResolution{members: members, err: err}
		}(i, g)
	}
	wg.Wait()

	return results
}

// IsAuthorized reports whether user belongs to any authorized group of the
// setting. Both arguments are compared case-insensitively.
func (m *MembershipIndex) IsAuthorized(setting, user string) bool {
	set, ok := m.members[elevation.SettingKey(setting)]
	if !ok {
		return false
	}
	_, ok = set[elevation.NormalizeUser(user)]
	return ok
}

// Has reports whether the index holds an entry for the setting.
func (m *MembershipIndex) Has(setting string) bool {
	_, ok := m.members[elevation.SettingKey(setting)]
	return ok
}

// Size returns the number of authorized users for the setting.
func (m *MembershipIndex) Size(setting string) int {
	return len(m.members[elevation.SettingKey(setting)])
}

// Members returns the authorized users of the setting in sorted order.
func (m *MembershipIndex) Members(setting string) []string {
	set := m.members[elevation.SettingKey(setting)]
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of settings in the index.
func (m *MembershipIndex) Len() int {
	return len(m.members)
}
