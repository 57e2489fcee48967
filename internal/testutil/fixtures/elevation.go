package fixtures

import (
	"time"

	"github.com/securelens/securelens/internal/domain/elevation"
)

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AuditRecordBuilder builds audit records with approved defaults.
type AuditRecordBuilder struct {
	record elevation.AuditRecord
}

func NewAuditRecordBuilder() *AuditRecordBuilder {
	return &AuditRecordBuilder{
		record: elevation.AuditRecord{
			ID:              1,
			User:            "bob",
			ApplicationName: "7-Zip",
			Machine:         "WS-001",
			Type:            "Run As Admin",
			Status:          elevation.AuditStatusFinished,
			Timestamp:       Day(2024, time.January, 5).Add(9 * time.Hour),
		},
	}
}

func (b *AuditRecordBuilder) WithID(id int64) *AuditRecordBuilder {
	b.record.ID = id
	return b
}

func (b *AuditRecordBuilder) WithUser(user string) *AuditRecordBuilder {
	b.record.User = user
	return b
}

func (b *AuditRecordBuilder) WithApplication(name string) *AuditRecordBuilder {
	b.record.ApplicationName = name
	return b
}

func (b *AuditRecordBuilder) WithReason(reason string) *AuditRecordBuilder {
	b.record.Reason = reason
	return b
}

func (b *AuditRecordBuilder) WithStatus(status elevation.AuditStatus) *AuditRecordBuilder {
	b.record.Status = status
	return b
}

func (b *AuditRecordBuilder) At(ts time.Time) *AuditRecordBuilder {
	b.record.Timestamp = ts
	return b
}

func (b *AuditRecordBuilder) WithMachine(machine string) *AuditRecordBuilder {
	b.record.Machine = machine
	return b
}

func (b *AuditRecordBuilder) Build() elevation.AuditRecord {
	return b.record
}

// Audit is shorthand for an approved audit record.
func Audit(user, app string, ts time.Time) elevation.AuditRecord {
	return NewAuditRecordBuilder().WithUser(user).WithApplication(app).At(ts).Build()
}

// Inventory is shorthand for an inventory record.
func Inventory(user, app string, ts time.Time) elevation.InventoryRecord {
	return elevation.InventoryRecord{User: user, ApplicationName: app, Machine: "WS-001", Timestamp: ts}
}

// ElevationScenario is a small, internally consistent data set: one
// setting, one group and a mix of authorized and unauthorized usage.
type ElevationScenario struct {
	Settings  []elevation.Setting
	Groups    map[string][]string
	Audits    []elevation.AuditRecord
	Inventory []elevation.InventoryRecord
}

// SevenZipScenario returns the canonical example: Bob (a member of
// IT-Admins) runs 7-Zip once, Dave (not a member) runs it once.
func SevenZipScenario() ElevationScenario {
	at := Day(2024, time.January, 5).Add(10 * time.Hour)
	return ElevationScenario{
		Settings: []elevation.Setting{
			{Name: "7-Zip", AuthorizedGroups: []string{"IT-Admins"}},
		},
		Groups: map[string][]string{
			"IT-Admins": {"bob"},
		},
		Audits: []elevation.AuditRecord{
			NewAuditRecordBuilder().WithID(1).WithUser("bob").WithApplication("7-Zip").At(at).Build(),
			NewAuditRecordBuilder().WithID(2).WithUser("dave").WithApplication("7-Zip").At(at).Build(),
		},
	}
}

// MultiSettingScenario covers several settings sharing groups, mixed case
// names, non-terminal statuses and unmatched applications.
func MultiSettingScenario() ElevationScenario {
	d1 := Day(2024, time.March, 1).Add(8 * time.Hour)
	d2 := Day(2024, time.March, 2).Add(15 * time.Hour)
	d3 := Day(2024, time.March, 3).Add(23 * time.Hour)

	return ElevationScenario{
		Settings: []elevation.Setting{
			{Name: "7-Zip", AuthorizedGroups: []string{"IT-Admins"}},
			{Name: "Visual Studio Code", AuthorizedGroups: []string{"Developers", "IT-Admins"}},
			{Name: "Wireshark", AuthorizedGroups: []string{"NetOps"}},
			{Name: "Legacy Tool", AuthorizedGroups: []string{"Ghost-Group"}},
		},
		Groups: map[string][]string{
			"IT-Admins":  {"bob", "CORP\\Alice"},
			"Developers": {"carol", "dan@corp.example.com"},
			"NetOps":     {"erin"},
		},
		Audits: []elevation.AuditRecord{
			NewAuditRecordBuilder().WithID(1).WithUser("bob").WithApplication("7-zip").At(d1).Build(),
			NewAuditRecordBuilder().WithID(2).WithUser("BOB").WithApplication("7-Zip").At(d2).Build(),
			NewAuditRecordBuilder().WithID(3).WithUser("alice").WithApplication("Visual Studio Code").At(d1).Build(),
			NewAuditRecordBuilder().WithID(4).WithUser("carol").WithApplication("visual studio code").At(d2).Build(),
			NewAuditRecordBuilder().WithID(5).WithUser("dan").WithApplication("Visual Studio Code").At(d3).Build(),
			NewAuditRecordBuilder().WithID(6).WithUser("mallory").WithApplication("Wireshark").At(d1).Build(),
			NewAuditRecordBuilder().WithID(7).WithUser("erin").WithApplication("Wireshark").
				WithStatus(elevation.AuditStatusDenied).At(d2).Build(),
			NewAuditRecordBuilder().WithID(8).WithUser("erin").WithApplication("Notepad++").At(d3).Build(),
			NewAuditRecordBuilder().WithID(9).WithUser("zoe").WithApplication("Legacy Tool").At(d3).Build(),
		},
		Inventory: []elevation.InventoryRecord{
			Inventory("erin", "Wireshark", d3),
			Inventory("bob", "7-Zip", d3),
		},
	}
}
