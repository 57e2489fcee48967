package elevation

import "time"

// DateLayout is the calendar-day key used in CompletionsByDate.
const DateLayout = "2006-01-02"

// UserCompletions ranks a user by the number of qualifying events.
type UserCompletions struct {
	User        string `json:"user"`
	Completions int    `json:"completions"`
}

// ApplicationStatisticsResult is the per-setting outcome of a run. It is
// derived data and recomputed on every run.
type ApplicationStatisticsResult struct {
	SettingName          string            `json:"setting_name"`
	TotalCompletions     int               `json:"total_completions"`
	UniqueUserCount      int               `json:"unique_user_count"`
	CompletionsByDate    map[string]int    `json:"completions_by_date"`
	TopUsers             []UserCompletions `json:"top_users,omitempty"`
	UnauthorizedAttempts int               `json:"unauthorized_attempts"`
	AuthorizedMembers    int               `json:"authorized_members"`
	FirstCompletion      *time.Time        `json:"first_completion,omitempty"`
	LastCompletion       *time.Time        `json:"last_completion,omitempty"`
}

// DateKey truncates t to its UTC calendar day.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
