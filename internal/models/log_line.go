// Package models contains domain types for the Apex log streamer.
package models

import "time"

// StreamName identifies which subprocess pipe a chunk came from.
type StreamName string

const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
)

// LogLine is a single line of raw tail output.
type LogLine struct {
	Text  string `json:"text"`
	Index int    `json:"index"` // zero-based position in the scanned text
}

// Chunk is one piece of subprocess output as received by the session.
type Chunk struct {
	Seq        uint64     `json:"seq" msgpack:"seq"`
	Stream     StreamName `json:"stream" msgpack:"stream"`
	Text       string     `json:"text" msgpack:"text"`
	ReceivedAt time.Time  `json:"receivedAt" msgpack:"receivedAt"`
}
