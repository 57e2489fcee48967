package reconciliation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/service/reconciliation"
	"github.com/securelens/securelens/internal/testutil/fixtures"
	"github.com/securelens/securelens/internal/testutil/mocks"
)

func compute(t *testing.T, scenario fixtures.ElevationScenario, cfg reconciliation.EngineConfig) map[string]elevation.ApplicationStatisticsResult {
	t.Helper()
	results, err := reconciliation.Compute(context.Background(), scenario.Settings, scenario.Audits, scenario.Inventory,
		mocks.NewStaticDirectory(scenario.Groups), cfg, nil)
	require.NoError(t, err)
	return results
}

func TestAggregate_SevenZipScenario(t *testing.T) {
	results := compute(t, fixtures.SevenZipScenario(), reconciliation.DefaultEngineConfig())

	require.Len(t, results, 1)
	res := results["7-Zip"]
	assert.Equal(t, "7-Zip", res.SettingName)
	assert.Equal(t, 1, res.TotalCompletions)
	assert.Equal(t, 1, res.UniqueUserCount)
	assert.Equal(t, map[string]int{"2024-01-05": 1}, res.CompletionsByDate)
	assert.Equal(t, 1, res.UnauthorizedAttempts)
	assert.Equal(t, 1, res.AuthorizedMembers)
	assert.Equal(t, []elevation.UserCompletions{{User: "bob", Completions: 1}}, res.TopUsers)
}

func TestAggregate_MultiSetting(t *testing.T) {
	results := compute(t, fixtures.MultiSettingScenario(), reconciliation.DefaultEngineConfig())

	tests := []struct {
		setting      string
		total        int
		unique       int
		byDate       map[string]int
		unauthorized int
		members      int
	}{
		{"7-Zip", 2, 1, map[string]int{"2024-03-01": 1, "2024-03-02": 1}, 0, 2},
		{"Visual Studio Code", 3, 3, map[string]int{"2024-03-01": 1, "2024-03-02": 1, "2024-03-03": 1}, 0, 4},
		{"Wireshark", 0, 0, map[string]int{}, 1, 1},
		{"Legacy Tool", 0, 0, map[string]int{}, 1, 0},
	}

	require.Len(t, results, len(tests))
	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			res, ok := results[tt.setting]
			require.True(t, ok)
			assert.Equal(t, tt.total, res.TotalCompletions)
			assert.Equal(t, tt.unique, res.UniqueUserCount)
			assert.Equal(t, tt.byDate, res.CompletionsByDate)
			assert.Equal(t, tt.unauthorized, res.UnauthorizedAttempts)
			assert.Equal(t, tt.members, res.AuthorizedMembers)
		})
	}
}

func TestAggregate_DateBucketsSumToTotal(t *testing.T) {
	for name, res := range compute(t, fixtures.MultiSettingScenario(), reconciliation.DefaultEngineConfig()) {
		sum := 0
		for _, n := range res.CompletionsByDate {
			sum += n
		}
		assert.Equal(t, res.TotalCompletions, sum, name)
		assert.LessOrEqual(t, res.UniqueUserCount, res.TotalCompletions, name)
	}
}

func TestAggregate_FirstAndLastCompletion(t *testing.T) {
	results := compute(t, fixtures.MultiSettingScenario(), reconciliation.DefaultEngineConfig())

	vsc := results["Visual Studio Code"]
	require.NotNil(t, vsc.FirstCompletion)
	require.NotNil(t, vsc.LastCompletion)
	assert.Equal(t, fixtures.Day(2024, time.March, 1).Add(8*time.Hour), *vsc.FirstCompletion)
	assert.Equal(t, fixtures.Day(2024, time.March, 3).Add(23*time.Hour), *vsc.LastCompletion)

	assert.Nil(t, results["Wireshark"].FirstCompletion)
}

func TestAggregate_UndatedEventsCountWithoutDay(t *testing.T) {
	march2 := fixtures.Day(2024, time.March, 2).Add(10 * time.Hour)
	scenario := fixtures.ElevationScenario{
		Settings: []elevation.Setting{{Name: "7-Zip", AuthorizedGroups: []string{"IT-Admins"}}},
		Groups:   map[string][]string{"IT-Admins": {"bob", "carol"}},
		Audits: []elevation.AuditRecord{
			fixtures.Audit("bob", "7-Zip", time.Time{}),
			fixtures.Audit("bob", "7-Zip", march2),
			fixtures.Audit("carol", "7-Zip", time.Time{}),
		},
	}

	res := compute(t, scenario, reconciliation.DefaultEngineConfig())["7-Zip"]
	assert.Equal(t, 3, res.TotalCompletions)
	assert.Equal(t, 2, res.UniqueUserCount)
	assert.Equal(t, map[string]int{"2024-03-02": 1}, res.CompletionsByDate)
	assert.NotContains(t, res.CompletionsByDate, "0001-01-01")
	require.NotNil(t, res.FirstCompletion)
	require.NotNil(t, res.LastCompletion)
	assert.Equal(t, march2, *res.FirstCompletion)
	assert.Equal(t, march2, *res.LastCompletion)

	onlyUndated := fixtures.ElevationScenario{
		Settings: scenario.Settings,
		Groups:   scenario.Groups,
		Audits:   []elevation.AuditRecord{fixtures.Audit("carol", "7-Zip", time.Time{})},
	}
	res = compute(t, onlyUndated, reconciliation.DefaultEngineConfig())["7-Zip"]
	assert.Equal(t, 1, res.TotalCompletions)
	assert.Empty(t, res.CompletionsByDate)
	assert.Nil(t, res.FirstCompletion)
	assert.Nil(t, res.LastCompletion)
}

func TestAggregate_TopUsers(t *testing.T) {
	scenario := fixtures.ElevationScenario{
		Settings: []elevation.Setting{{Name: "7-Zip", AuthorizedGroups: []string{"Ops"}}},
		Groups:   map[string][]string{"Ops": {"amy", "ben", "cal"}},
	}
	day := fixtures.Day(2024, time.May, 1)
	for i, u := range []string{"ben", "cal", "ben", "amy", "cal", "ben"} {
		scenario.Audits = append(scenario.Audits, fixtures.Audit(u, "7-Zip", day.Add(time.Duration(i)*time.Hour)))
	}

	cfg := reconciliation.DefaultEngineConfig()
	cfg.TopUsers = 2
	res := compute(t, scenario, cfg)["7-Zip"]

	assert.Equal(t, []elevation.UserCompletions{
		{User: "ben", Completions: 3},
		{User: "cal", Completions: 2},
	}, res.TopUsers)

	cfg.TopUsers = 0
	assert.Nil(t, compute(t, scenario, cfg)["7-Zip"].TopUsers)
}

func TestAggregate_Idempotent(t *testing.T) {
	scenario := fixtures.MultiSettingScenario()
	cfg := reconciliation.DefaultEngineConfig()
	cfg.IncludeInventory = true

	first := compute(t, scenario, cfg)
	second := compute(t, scenario, cfg)
	assert.Equal(t, first, second)
}

func TestAggregate_EmptyInputs(t *testing.T) {
	results := compute(t, fixtures.ElevationScenario{}, reconciliation.DefaultEngineConfig())
	assert.Empty(t, results)

	scenario := fixtures.SevenZipScenario()
	scenario.Audits = nil
	res := compute(t, scenario, reconciliation.DefaultEngineConfig())["7-Zip"]
	assert.Zero(t, res.TotalCompletions)
	assert.NotNil(t, res.CompletionsByDate)
}

func TestAggregate_UnknownSettingIsInvariantViolation(t *testing.T) {
	registry := elevation.NewRegistry([]elevation.Setting{{Name: "7-Zip", AuthorizedGroups: []string{"Ops"}}}, nil)

	t.Run("completion fact", func(t *testing.T) {
		classification := reconciliation.Classification{
			Completed: []elevation.CompletedUser{{User: "bob", SettingName: "Putty", FirstSeen: time.Now()}},
		}
		_, err := reconciliation.Aggregate(classification, registry, nil, reconciliation.AggregateOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInvariant))
		assert.Equal(t, "UNKNOWN_SETTING", errors.Code(err))
	})

	t.Run("unauthorized tally", func(t *testing.T) {
		classification := reconciliation.Classification{Unauthorized: map[string]int{"Putty": 1}}
		_, err := reconciliation.Aggregate(classification, registry, nil, reconciliation.AggregateOptions{})
		assert.True(t, errors.IsType(err, errors.ErrorTypeInvariant))
	})
}

func TestSortedResults(t *testing.T) {
	results := map[string]elevation.ApplicationStatisticsResult{
		"b":     {SettingName: "b", TotalCompletions: 1},
		"A":     {SettingName: "A", TotalCompletions: 1},
		"c":     {SettingName: "c", TotalCompletions: 9},
		"Delta": {SettingName: "Delta"},
	}

	names := func(rs []elevation.ApplicationStatisticsResult) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.SettingName
		}
		return out
	}

	assert.Equal(t, []string{"A", "b", "c", "Delta"}, names(reconciliation.SortedResults(results, reconciliation.SortByName)))
	assert.Equal(t, []string{"c", "A", "b", "Delta"}, names(reconciliation.SortedResults(results, reconciliation.SortByCompletions)))
}
