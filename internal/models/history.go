package models

import "time"

// HistoryEntry is the stored header of a past analysis report.
type HistoryEntry struct {
	ID           string       `json:"id"`
	CreatedAt    time.Time    `json:"createdAt"`
	Source       ReportSource `json:"source"`
	FindingCount int          `json:"findingCount"`
	ErrorCount   int          `json:"errorCount"`
	Summary      string       `json:"summary"`
}

// LabelCount is how often a label was found across stored reports.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}
