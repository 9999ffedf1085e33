package models

import "time"

// SessionStatus represents the state of the stream session.
type SessionStatus string

const (
	SessionStatusIdle    SessionStatus = "idle"
	SessionStatusRunning SessionStatus = "running"
)

// StartResult is returned by a session start.
type StartResult struct {
	Started     bool   `json:"started"`
	RunID       string `json:"runId,omitempty"`
	Target      string `json:"target,omitempty"`
	SegmentPath string `json:"segmentPath,omitempty"`
	Persisting  bool   `json:"persisting"`
	Error       string `json:"error,omitempty"`
}

// StopResult is returned by a session stop. Stopping an idle session is
// not an error; WasRunning is false in that case.
type StopResult struct {
	WasRunning  bool          `json:"wasRunning"`
	Status      SessionStatus `json:"status"`
	SegmentPath string        `json:"segmentPath,omitempty"`
}

// SessionInfo is a read-only view of the session.
type SessionInfo struct {
	Status      SessionStatus `json:"status"`
	RunID       string        `json:"runId,omitempty"`
	Target      string        `json:"target,omitempty"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	Segment     *Segment      `json:"segment,omitempty"`
	BufferBytes int           `json:"bufferBytes"`
	Chunks      int           `json:"chunks"`
	Evicted     uint64        `json:"evicted"`
	LastSegment string        `json:"lastSegment,omitempty"`
}
