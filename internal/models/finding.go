package models

import "time"

// Severity classifies a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Category groups labels for quick-fix suggestions.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryException  Category = "exception"
	CategoryLimit      Category = "limit"
	CategoryOther      Category = "other"
)

// Finding is a single detected error instance.
type Finding struct {
	Line     string   `json:"line" msgpack:"line"`
	Index    int      `json:"index" msgpack:"index"`
	Label    string   `json:"label" msgpack:"label"`
	Severity Severity `json:"severity" msgpack:"severity"`
	Category Category `json:"category" msgpack:"category"`
	Before   []string `json:"before" msgpack:"before"` // clipped at the start of the text
	After    []string `json:"after" msgpack:"after"`   // clipped at the end of the text
}

// ReportSource says who produced an AnalysisReport.
type ReportSource string

const (
	SourceScanner ReportSource = "scanner"
	SourceAgent   ReportSource = "agent"
)

// AnalysisReport aggregates the findings of one analysis invocation.
type AnalysisReport struct {
	ID         string       `json:"id,omitempty"`
	Source     ReportSource `json:"source"`
	Findings   []Finding    `json:"findings"`
	Labels     []string     `json:"labels"`
	Summary    string       `json:"summary"`
	QuickFixes []string     `json:"quickFixes"`
	Files      []string     `json:"files,omitempty"` // analysed log files, if any
	CreatedAt  time.Time    `json:"createdAt"`
}

// ErrorCount returns how many findings carry error severity.
func (r *AnalysisReport) ErrorCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}
