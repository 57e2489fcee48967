package reporting

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

var columns = []struct {
	title string
	width int
	align lipgloss.Position
}{
	{"Setting", 28, lipgloss.Left},
	{"Completions", 12, lipgloss.Right},
	{"Users", 7, lipgloss.Right},
	{"Members", 8, lipgloss.Right},
	{"Coverage", 9, lipgloss.Right},
	{"Unauthorized", 13, lipgloss.Right},
	{"Last completion", 17, lipgloss.Left},
}

// ConsoleRenderer prints a report as a bordered table followed by the top
// users and diagnostics.
type ConsoleRenderer struct {
	Order        reconciliation.SortOrder
	ShowTopUsers bool
	ShowTrend    bool
}

func NewConsoleRenderer() *ConsoleRenderer {
	return &ConsoleRenderer{Order: reconciliation.SortByName, ShowTopUsers: true}
}

type consoleStyles struct {
	title    lipgloss.Style
	label    lipgloss.Style
	header   lipgloss.Style
	cell     lipgloss.Style
	alert    lipgloss.Style
	box      lipgloss.Style
	severity map[elevation.Severity]lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		label:  r.NewStyle().Foreground(lipgloss.Color("#888888")),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")),
		cell:   r.NewStyle(),
		alert:  r.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5A56E0")).
			Padding(0, 1),
		severity: map[elevation.Severity]lipgloss.Style{
			elevation.SeverityInfo:    r.NewStyle().Foreground(lipgloss.Color("#04B575")),
			elevation.SeverityWarning: r.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
			elevation.SeverityError:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87")),
		},
	}
}

// Render writes the report to w. Colors are only emitted when w is a
// terminal.
func (c *ConsoleRenderer) Render(w io.Writer, report *reconciliation.Report) error {
	st := newConsoleStyles(lipgloss.NewRenderer(w))

	var sections []string
	sections = append(sections, st.title.Render("SecureLens elevation compliance report"))
	sections = append(sections, c.header(st, report))

	results := reconciliation.SortedResults(report.Results, c.Order)
	if len(results) == 0 {
		sections = append(sections, st.label.Render("No settings configured."))
	} else {
		sections = append(sections, st.box.Render(c.table(st, results)))
	}

	if c.ShowTopUsers {
		if top := c.topUsers(st, results); top != "" {
			sections = append(sections, top)
		}
	}
	if c.ShowTrend {
		if trend := c.trend(st, results); trend != "" {
			sections = append(sections, trend)
		}
	}
	if len(report.Diagnostics) > 0 {
		sections = append(sections, c.diagnostics(st, report.Diagnostics))
	}

	_, err := io.WriteString(w, lipgloss.JoinVertical(lipgloss.Left, sections...)+"\n")
	return err
}

func (c *ConsoleRenderer) header(st consoleStyles, report *reconciliation.Report) string {
	lines := []string{
		st.label.Render("Run:       ") + report.RunID.String(),
		st.label.Render("Generated: ") + report.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if !report.Window.Start.IsZero() {
		lines = append(lines, st.label.Render("Window:    ")+
			report.Window.Start.UTC().Format(elevation.DateLayout)+" .. "+
			report.Window.End.UTC().Format(elevation.DateLayout))
	}
	s := report.Summary
	lines = append(lines, st.label.Render("Records:   ")+fmt.Sprintf(
		"%d audit, %d inventory, %d completions, %d unmatched, %d unauthorized",
		s.AuditRecords, s.InventoryRecords, s.Completions, s.Unmatched, s.Unauthorized))
	return strings.Join(lines, "\n")
}

func (c *ConsoleRenderer) table(st consoleStyles, results []elevation.ApplicationStatisticsResult) string {
	rows := make([]string, 0, len(results)+1)

	cells := make([]string, len(columns))
	for i, col := range columns {
		cells[i] = st.header.Width(col.width).Align(col.align).Render(col.title)
	}
	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))

	for _, res := range results {
		last := "-"
		if res.LastCompletion != nil {
			last = res.LastCompletion.UTC().Format("2006-01-02 15:04")
		}
		values := []string{
			truncate(res.SettingName, columns[0].width-1),
			strconv.Itoa(res.TotalCompletions),
			strconv.Itoa(res.UniqueUserCount),
			strconv.Itoa(res.AuthorizedMembers),
			FormatCoverage(res),
			strconv.Itoa(res.UnauthorizedAttempts),
			last,
		}
		for i, col := range columns {
			style := st.cell
			if i == 5 && res.UnauthorizedAttempts > 0 {
				style = st.alert
			}
			cells[i] = style.Width(col.width).Align(col.align).Render(values[i])
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (c *ConsoleRenderer) topUsers(st consoleStyles, results []elevation.ApplicationStatisticsResult) string {
	var lines []string
	for _, res := range results {
		if len(res.TopUsers) == 0 {
			continue
		}
		parts := make([]string, len(res.TopUsers))
		for i, u := range res.TopUsers {
			parts[i] = fmt.Sprintf("%s (%d)", u.User, u.Completions)
		}
		lines = append(lines, "  "+res.SettingName+": "+strings.Join(parts, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return st.title.Render("Top users") + "\n" + strings.Join(lines, "\n")
}

func (c *ConsoleRenderer) trend(st consoleStyles, results []elevation.ApplicationStatisticsResult) string {
	var lines []string
	for _, res := range results {
		if len(res.CompletionsByDate) == 0 {
			continue
		}
		days := make([]string, 0, len(res.CompletionsByDate))
		for d := range res.CompletionsByDate {
			days = append(days, d)
		}
		sort.Strings(days)
		lines = append(lines, "  "+res.SettingName)
		for _, d := range days {
			n := res.CompletionsByDate[d]
			lines = append(lines, fmt.Sprintf("    %s %s %d", d, strings.Repeat("#", min(n, 40)), n))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return st.title.Render("Completions by day") + "\n" + strings.Join(lines, "\n")
}

func (c *ConsoleRenderer) diagnostics(st consoleStyles, diags []elevation.Diagnostic) string {
	lines := make([]string, 0, len(diags)+1)
	lines = append(lines, st.title.Render(fmt.Sprintf("Diagnostics (%d)", len(diags))))
	for _, d := range diags {
		style, ok := st.severity[d.Severity]
		if !ok {
			style = st.cell
		}
		sev := style.Render(strings.ToUpper(string(d.Severity)))
		subject := ""
		if d.Subject != "" {
			subject = " [" + d.Subject + "]"
		}
		lines = append(lines, fmt.Sprintf("  %s %s%s: %s", sev, d.Kind, subject, d.Message))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
