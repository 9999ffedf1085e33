package logfile

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	segmentPrefix = "apex-"
	segmentExt    = ".log"

	// SegmentTimeLayout is the timestamp layout in segment file names.
	SegmentTimeLayout = "2006-01-02T15-04-05"

	maxNameAttempts = 1000
)

// SegmentPath builds the n-th candidate segment path for t in dir.
// n == 0 yields apex-<timestamp>.log, later attempts add a -n suffix.
func SegmentPath(dir string, t time.Time, n int) string {
	name := segmentPrefix + t.Format(SegmentTimeLayout)
	if n > 0 {
		name = fmt.Sprintf("%s-%d", name, n)
	}
	return filepath.Join(dir, name+segmentExt)
}

// IsSegmentName reports whether name looks like a log file this package
// would manage.
func IsSegmentName(name string) bool {
	return strings.HasSuffix(name, segmentExt)
}
