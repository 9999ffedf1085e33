package models

import "time"

// FileInfo represents metadata about a log file in the project tree.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"` // relative to the project root
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	Dir     string    `json:"dir"`
}
