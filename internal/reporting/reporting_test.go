package reporting_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/reporting"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

func sampleReport() *reconciliation.Report {
	last := time.Date(2024, time.March, 3, 14, 30, 0, 0, time.UTC)
	first := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	return &reconciliation.Report{
		RunID:       uuid.MustParse("7b0f0b5e-2c55-4a47-9d7e-2f3f7a3c1e11"),
		GeneratedAt: time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC),
		Results: map[string]elevation.ApplicationStatisticsResult{
			"Wireshark": {
				SettingName:          "Wireshark",
				CompletionsByDate:    map[string]int{},
				UnauthorizedAttempts: 1,
				AuthorizedMembers:    1,
			},
			"7-Zip": {
				SettingName:       "7-Zip",
				TotalCompletions:  3,
				UniqueUserCount:   2,
				AuthorizedMembers: 3,
				CompletionsByDate: map[string]int{"2024-03-03": 2, "2024-03-01": 1},
				TopUsers: []elevation.UserCompletions{
					{User: "bob", Completions: 2},
					{User: "alice", Completions: 1},
				},
				FirstCompletion: &first,
				LastCompletion:  &last,
			},
			"Legacy Tool": {
				SettingName:       "Legacy Tool",
				CompletionsByDate: map[string]int{},
			},
		},
		Diagnostics: []elevation.Diagnostic{
			elevation.Warning(elevation.KindGroupNotFound, "Ghost-Group", "group not found in directory"),
		},
		Summary: reconciliation.RunSummary{Settings: 3, AuditRecords: 5, Completions: 3, Unauthorized: 1},
	}
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		name    string
		unique  int
		members int
		want    string
	}{
		{"two of three", 2, 3, "66.7%"},
		{"all", 4, 4, "100.0%"},
		{"none", 0, 5, "0.0%"},
		{"five of eight", 5, 8, "62.5%"},
		{"no members", 0, 0, "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := elevation.ApplicationStatisticsResult{UniqueUserCount: tt.unique, AuthorizedMembers: tt.members}
			assert.Equal(t, tt.want, reporting.FormatCoverage(res))
		})
	}
}

func TestConsoleRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := reporting.NewConsoleRenderer()
	r.ShowTrend = true
	require.NoError(t, r.Render(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "7b0f0b5e-2c55-4a47-9d7e-2f3f7a3c1e11")
	assert.Contains(t, out, "Coverage")
	assert.Contains(t, out, "66.7%")
	assert.Contains(t, out, "n/a")
	assert.Contains(t, out, "2024-03-03 14:30")
	assert.Contains(t, out, "bob (2), alice (1)")
	assert.Contains(t, out, "2024-03-03 ## 2")
	assert.Contains(t, out, "WARNING group_not_found [Ghost-Group]")
	assert.NotContains(t, out, "\x1b[", "no escape codes when writing to a buffer")

	zip := strings.Index(out, "7-Zip")
	legacy := strings.Index(out, "Legacy Tool")
	wireshark := strings.Index(out, "Wireshark")
	assert.True(t, zip < legacy && legacy < wireshark, "rows are ordered by name")
}

func TestConsoleRenderer_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reporting.NewConsoleRenderer().Render(&buf, &reconciliation.Report{}))
	assert.Contains(t, buf.String(), "No settings configured.")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reporting.WriteJSON(&buf, sampleReport()))

	var decoded struct {
		RunID   string                                           `json:"run_id"`
		Results map[string]elevation.ApplicationStatisticsResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "7b0f0b5e-2c55-4a47-9d7e-2f3f7a3c1e11", decoded.RunID)
	assert.Equal(t, 3, decoded.Results["7-Zip"].TotalCompletions)
	assert.Equal(t, 2, decoded.Results["7-Zip"].CompletionsByDate["2024-03-03"])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reporting.WriteCSV(&buf, sampleReport()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "setting", rows[0][0])
	assert.Equal(t, []string{
		"7-Zip", "3", "2", "3", "66.7", "0",
		"2024-03-01T09:00:00Z", "2024-03-03T14:30:00Z", "bob:2;alice:1",
	}, rows[1])
	assert.Equal(t, []string{"Legacy Tool", "0", "0", "0", "", "0", "", "", ""}, rows[2])
	assert.Equal(t, "Wireshark", rows[3][0])
}

func TestWriteDailyCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reporting.WriteDailyCSV(&buf, sampleReport()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"setting", "date", "completions"},
		{"7-Zip", "2024-03-01", "1"},
		{"7-Zip", "2024-03-03", "2"},
	}, rows)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]reporting.Format{
		"":      reporting.FormatConsole,
		"table": reporting.FormatConsole,
		"JSON":  reporting.FormatJSON,
		"csv":   reporting.FormatCSV,
	} {
		got, err := reporting.ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := reporting.ParseFormat("xml")
	assert.Error(t, err)
}
