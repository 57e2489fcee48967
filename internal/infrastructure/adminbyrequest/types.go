package adminbyrequest

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/securelens/securelens/internal/domain/elevation"
)

// Timestamp accepts the API's zone-less timestamps (treated as UTC) as
// well as RFC 3339 values. It marshals back to RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return &time.ParseError{Layout: time.RFC3339, Value: s, Message: ": unrecognized timestamp"}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// GroupRef is a directory group attached to a user. The API returns either
// plain names or objects with a name field.
type GroupRef struct {
	Name string `json:"name"`
}

func (g *GroupRef) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		g.Name = name
		return nil
	}
	type plain GroupRef
	var obj plain
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	g.Name = obj.Name
	return nil
}

type User struct {
	Account  string     `json:"account"`
	FullName string     `json:"fullName,omitempty"`
	Email    string     `json:"email,omitempty"`
	Groups   []GroupRef `json:"groups,omitempty"`
}

type Computer struct {
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
}

type Application struct {
	File    string `json:"file,omitempty"`
	Path    string `json:"path,omitempty"`
	Name    string `json:"name"`
	Vendor  string `json:"vendor,omitempty"`
	Version string `json:"version,omitempty"`
}

// AuditLogEntry is one element of the /auditlog response.
type AuditLogEntry struct {
	ID           int64       `json:"id"`
	TraceNo      string      `json:"traceNo,omitempty"`
	SettingsName string      `json:"settingsName,omitempty"`
	Type         string      `json:"type"`
	Status       string      `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	ApprovedBy   string      `json:"approvedBy,omitempty"`
	RequestTime  Timestamp   `json:"requestTime"`
	StartTime    Timestamp   `json:"startTimeUTC"`
	User         User        `json:"user"`
	Computer     Computer    `json:"computer"`
	Application  Application `json:"application"`
}

// Software is one installed application in an inventory entry.
type Software struct {
	Name    string `json:"name"`
	Vendor  string `json:"vendor,omitempty"`
	Version string `json:"version,omitempty"`
}

// InventoryEntry is one computer in the /inventory response.
type InventoryEntry struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	InventoryDate Timestamp  `json:"inventoryDate"`
	User          User       `json:"user"`
	Software      []Software `json:"software,omitempty"`
}

// ToAuditRecord maps an API entry to the canonical audit record. The start
// time is preferred over the request time.
func (e AuditLogEntry) ToAuditRecord() elevation.AuditRecord {
	ts := e.StartTime.Time
	if ts.IsZero() {
		ts = e.RequestTime.Time
	}

	groups := make([]string, 0, len(e.User.Groups))
	for _, g := range e.User.Groups {
		if g.Name != "" {
			groups = append(groups, g.Name)
		}
	}

	return elevation.AuditRecord{
		ID:                  e.ID,
		User:                e.User.Account,
		ApplicationName:     e.Application.Name,
		Reason:              e.Reason,
		Machine:             e.Computer.Name,
		Type:                e.Type,
		Status:              elevation.AuditStatus(e.Status),
		Timestamp:           ts,
		GroupsAtRequestTime: groups,
	}
}

// ToInventoryRecords yields one record per installed application.
func (e InventoryEntry) ToInventoryRecords() []elevation.InventoryRecord {
	out := make([]elevation.InventoryRecord, 0, len(e.Software))
	for _, sw := range e.Software {
		if strings.TrimSpace(sw.Name) == "" {
			continue
		}
		out = append(out, elevation.InventoryRecord{
			User:            e.User.Account,
			ApplicationName: sw.Name,
			Machine:         e.Name,
			Timestamp:       e.InventoryDate.Time,
		})
	}
	return out
}

// AuditRecords maps a batch of entries.
func AuditRecords(entries []AuditLogEntry) []elevation.AuditRecord {
	out := make([]elevation.AuditRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ToAuditRecord())
	}
	return out
}

// InventoryRecords maps a batch of entries.
func InventoryRecords(entries []InventoryEntry) []elevation.InventoryRecord {
	var out []elevation.InventoryRecord
	for _, e := range entries {
		out = append(out, e.ToInventoryRecords()...)
	}
	if out == nil {
		out = []elevation.InventoryRecord{}
	}
	return out
}
