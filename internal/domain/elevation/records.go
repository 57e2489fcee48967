package elevation

import (
	"strings"
	"time"
)

// AuditStatus is the lifecycle status of an elevation request.
type AuditStatus string

const (
	AuditStatusFinished    AuditStatus = "Finished"
	AuditStatusApproved    AuditStatus = "Approved"
	AuditStatusRunning     AuditStatus = "Running"
	AuditStatusPending     AuditStatus = "Pending"
	AuditStatusDenied      AuditStatus = "Denied"
	AuditStatusCanceled    AuditStatus = "Canceled"
	AuditStatusQuarantined AuditStatus = "Quarantined"
	AuditStatusTimeout     AuditStatus = "Timeout"
)

// IsTerminalSuccess reports whether the request finished with an approved
// outcome. Pending, denied and cancelled requests never qualify.
func (s AuditStatus) IsTerminalSuccess() bool {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "finished", "approved":
		return true
	default:
		return false
	}
}

// AuditRecord is one elevation request lifecycle event.
type AuditRecord struct {
	ID                  int64       `json:"id"`
	User                string      `json:"user"`
	ApplicationName     string      `json:"application_name"`
	Reason              string      `json:"reason,omitempty"`
	Machine             string      `json:"machine,omitempty"`
	Type                string      `json:"type,omitempty"`
	Status              AuditStatus `json:"status"`
	Timestamp           time.Time   `json:"timestamp"`
	GroupsAtRequestTime []string    `json:"groups_at_request_time,omitempty"`
}

// Target is the name the record is matched against settings with: the
// application name, or the request reason when no application was recorded.
func (r AuditRecord) Target() string {
	if name := strings.TrimSpace(r.ApplicationName); name != "" {
		return name
	}
	return strings.TrimSpace(r.Reason)
}

// InventoryRecord is one observed application installation or run on a
// machine.
type InventoryRecord struct {
	User            string    `json:"user"`
	ApplicationName string    `json:"application_name"`
	Machine         string    `json:"machine"`
	Timestamp       time.Time `json:"timestamp"`
}
