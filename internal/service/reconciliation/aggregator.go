package reconciliation

import (
	"fmt"
	"sort"
	"time"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
)

// AggregateOptions tunes statistics aggregation.
type AggregateOptions struct {
	// TopUsers limits the ranked user list per setting; zero disables it.
	TopUsers int
}

// Aggregate folds completion facts into one result per registry setting,
// including settings without completions. A fact naming a setting that is
// not in the registry is an invariant violation and aborts aggregation.
func Aggregate(
	classification Classification,
	registry *elevation.Registry,
	index *MembershipIndex,
	opts AggregateOptions,
) (map[string]elevation.ApplicationStatisticsResult, error) {
	if registry == nil {
		return nil, errors.NewValidationError("NIL_REGISTRY", "settings registry is required")
	}

	results := make(map[string]elevation.ApplicationStatisticsResult, registry.Len())
	users := make(map[string]map[string]int, registry.Len())

	for _, s := range registry.Settings() {
		res := elevation.ApplicationStatisticsResult{
			SettingName:       s.Name,
			CompletionsByDate: make(map[string]int),
		}
		if index != nil {
			res.AuthorizedMembers = index.Size(s.Name)
		}
		results[s.Name] = res
		users[s.Name] = make(map[string]int)
	}

	for _, fact := range classification.Completed {
		setting, ok := registry.Lookup(fact.SettingName)
		if !ok {
			return nil, errors.NewInvariantError("UNKNOWN_SETTING",
				fmt.Sprintf("completion for user %q references unknown setting %q", fact.User, fact.SettingName))
		}

		res := results[setting.Name]
		events := fact.EventTimes
		if len(events) == 0 {
			events = []time.Time{fact.FirstSeen}
		}

		// Undated events count as completions but have no day and never
		// bound the first/last completion.
		for _, at := range events {
			res.TotalCompletions++
			if at.IsZero() {
				continue
			}
			res.CompletionsByDate[elevation.DateKey(at)]++
			if res.FirstCompletion == nil || at.Before(*res.FirstCompletion) {
				first := at
				res.FirstCompletion = &first
			}
			if res.LastCompletion == nil || at.After(*res.LastCompletion) {
				last := at
				res.LastCompletion = &last
			}
		}
		users[setting.Name][fact.User] += len(events)

		results[setting.Name] = res
	}

	for name, count := range classification.Unauthorized {
		setting, ok := registry.Lookup(name)
		if !ok {
			return nil, errors.NewInvariantError("UNKNOWN_SETTING",
				fmt.Sprintf("unauthorized attempts reference unknown setting %q", name))
		}
		res := results[setting.Name]
		res.UnauthorizedAttempts += count
		results[setting.Name] = res
	}

	for name, res := range results {
		res.UniqueUserCount = len(users[name])
		res.TopUsers = rankUsers(users[name], opts.TopUsers)
		results[name] = res
	}

	return results, nil
}

// rankUsers orders users by completions descending, then by name.
func rankUsers(counts map[string]int, limit int) []elevation.UserCompletions {
	if limit <= 0 || len(counts) == 0 {
		return nil
	}
	ranked := make([]elevation.UserCompletions, 0, len(counts))
	for u, n := range counts {
		ranked = append(ranked, elevation.UserCompletions{User: u, Completions: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Completions != ranked[j].Completions {
			return ranked[i].Completions > ranked[j].Completions
		}
		return ranked[i].User < ranked[j].User
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// SortOrder selects a presentation order for results.
type SortOrder string

const (
	SortByName        SortOrder = "name"
	SortByCompletions SortOrder = "completions"
)

// SortedResults returns the results in a stable presentation order.
func SortedResults(results map[string]elevation.ApplicationStatisticsResult, order SortOrder) []elevation.ApplicationStatisticsResult {
	out := make([]elevation.ApplicationStatisticsResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if order == SortByCompletions && a.TotalCompletions != b.TotalCompletions {
			return a.TotalCompletions > b.TotalCompletions
		}
		return elevation.SettingKey(a.SettingName) < elevation.SettingKey(b.SettingName)
	})
	return out
}
