package elevation

import "time"

// CompletionSource records which kind of evidence produced a completion.
type CompletionSource string

const (
	SourceAudit     CompletionSource = "audit"
	SourceInventory CompletionSource = "inventory"
)

// CompletedUser is one user's authorized, approved completion for one
// setting. Repeated qualifying events collapse into a single fact; the
// earliest timestamp is kept and every event time is retained for
// frequency and trend reporting.
type CompletedUser struct {
	User        string           `json:"user"`
	SettingName string           `json:"setting_name"`
	FirstSeen   time.Time        `json:"first_seen"`
	Occurrences int              `json:"occurrences"`
	EventTimes  []time.Time      `json:"event_times"`
	Source      CompletionSource `json:"source"`
}

// LastSeen returns the most recent qualifying event time.
func (c CompletedUser) LastSeen() time.Time {
	last := c.FirstSeen
	for _, t := range c.EventTimes {
		if t.After(last) {
			last = t
		}
	}
	return last
}
