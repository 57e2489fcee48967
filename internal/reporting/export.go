package reporting

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

// Format names an output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
)

// ParseFormat accepts console, table, json and csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "console", "table":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Write renders the report in the given format.
func Write(w io.Writer, format Format, report *reconciliation.Report) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatCSV:
		return WriteCSV(w, report)
	default:
		return NewConsoleRenderer().Render(w, report)
	}
}

// WriteJSON writes the full report as indented JSON.
func WriteJSON(w io.Writer, report *reconciliation.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

var csvHeader = []string{
	"setting", "total_completions", "unique_users", "authorized_members",
	"coverage_pct", "unauthorized_attempts", "first_completion", "last_completion",
	"top_users",
}

// WriteCSV writes one row per setting, ordered by name.
func WriteCSV(w io.Writer, report *reconciliation.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, res := range reconciliation.SortedResults(report.Results, reconciliation.SortByName) {
		coverage := ""
		if pct, ok := Coverage(res); ok {
			coverage = pct.StringFixed(1)
		}
		if err := cw.Write([]string{
			res.SettingName,
			strconv.Itoa(res.TotalCompletions),
			strconv.Itoa(res.UniqueUserCount),
			strconv.Itoa(res.AuthorizedMembers),
			coverage,
			strconv.Itoa(res.UnauthorizedAttempts),
			formatTime(res.FirstCompletion),
			formatTime(res.LastCompletion),
			formatTopUsers(res.TopUsers),
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteDailyCSV writes the sparse date buckets as setting,date,completions
// rows.
func WriteDailyCSV(w io.Writer, report *reconciliation.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"setting", "date", "completions"}); err != nil {
		return err
	}
	for _, res := range reconciliation.SortedResults(report.Results, reconciliation.SortByName) {
		days := make([]string, 0, len(res.CompletionsByDate))
		for d := range res.CompletionsByDate {
			days = append(days, d)
		}
		sort.Strings(days)
		for _, d := range days {
			if err := cw.Write([]string{res.SettingName, d, strconv.Itoa(res.CompletionsByDate[d])}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTopUsers(users []elevation.UserCompletions) string {
	parts := make([]string, len(users))
	for i, u := range users {
		parts[i] = u.User + ":" + strconv.Itoa(u.Completions)
	}
	return strings.Join(parts, ";")
}
