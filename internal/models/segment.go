package models

import "time"

// Segment describes one rotation period of a stream session on disk.
// Only the writer's current segment is open; closed segments are immutable.
type Segment struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
	Open      bool      `json:"open"`
}
