package elevation

import "sync"

// Severity of a diagnostic event
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DiagnosticKind classifies data-quality anomalies absorbed during a run.
type DiagnosticKind string

const (
	KindInvalidSetting   DiagnosticKind = "invalid_setting"
	KindDuplicateSetting DiagnosticKind = "duplicate_setting"
	KindEmptySetting     DiagnosticKind = "empty_setting"
	KindGroupNotFound    DiagnosticKind = "group_not_found"
	KindGroupUnresolved  DiagnosticKind = "group_unresolved"
	KindNoSnapshot       DiagnosticKind = "no_cached_snapshot"
	KindGroupSummary     DiagnosticKind = "group_resolution_summary"
	KindUnmatchedRecords DiagnosticKind = "unmatched_records"
	KindSourceFailure    DiagnosticKind = "source_failure"
	KindEmptySource      DiagnosticKind = "empty_source"
)

// Diagnostic is a warning or error expressed as data instead of a printed
// side effect.
type Diagnostic struct {
	Severity Severity       `json:"severity"`
	Kind     DiagnosticKind `json:"kind"`
	Subject  string         `json:"subject,omitempty"`
	Message  string         `json:"message"`
}

func Info(kind DiagnosticKind, subject, message string) Diagnostic {
	return Diagnostic{Severity: SeverityInfo, Kind: kind, Subject: subject, Message: message}
}

func Warning(kind DiagnosticKind, subject, message string) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Kind: kind, Subject: subject, Message: message}
}

func Error(kind DiagnosticKind, subject, message string) Diagnostic {
	return Diagnostic{Severity: SeverityError, Kind: kind, Subject: subject, Message: message}
}

// DiagnosticSink receives diagnostics. Implementations must be safe for
// concurrent use.
type DiagnosticSink interface {
	Emit(d Diagnostic)
}

type discardSink struct{}

func (discardSink) Emit(Diagnostic) {}

// DiscardDiagnostics drops every diagnostic.
var DiscardDiagnostics DiagnosticSink = discardSink{}

// DiagnosticCollector accumulates diagnostics in emission order.
type DiagnosticCollector struct {
	mu     sync.Mutex
	events []Diagnostic
}

func NewDiagnosticCollector() *DiagnosticCollector {
	return &DiagnosticCollector{}
}

func (c *DiagnosticCollector) Emit(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, d)
}

// Diagnostics returns a copy of everything emitted so far.
func (c *DiagnosticCollector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many diagnostics of the given kind were emitted.
func (c *DiagnosticCollector) Count(kind DiagnosticKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.events {
		if d.Kind == kind {
			n++
		}
	}
	return n
}
