package models

import "time"

// SnapshotKind distinguishes pre-audit and pre-analysis archives.
type SnapshotKind string

const (
	SnapshotAudit    SnapshotKind = "audit"
	SnapshotAnalysis SnapshotKind = "analysis"
)

// ArchiveSnapshot is a timestamped directory capturing a prior cycle.
type ArchiveSnapshot struct {
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	Kind      SnapshotKind `json:"kind"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ArchiveResult reports what an archive operation did.
type ArchiveResult struct {
	Snapshot      *ArchiveSnapshot `json:"snapshot,omitempty"`
	MovedMain     bool             `json:"movedMain"`
	MovedAnalysis bool             `json:"movedAnalysis"`
	Moved         int              `json:"moved"`
	Copied        int              `json:"copied"`
	Skipped       []string         `json:"skipped,omitempty"`
}
