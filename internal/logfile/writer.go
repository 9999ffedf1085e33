// Package logfile owns the single writable log segment of a stream and
// rotates it by size.
package logfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apexlog/backend/internal/models"
)

// DefaultMaxSize is the segment size (bytes) at which rotation triggers.
const DefaultMaxSize int64 = 1024 * 1024

// ErrClosed is returned by Write when no segment is open.
var ErrClosed = errors.New("logfile: no open segment")

// Option configures a Writer.
type Option func(*Writer)

// WithMaxSize sets the rotation threshold. 0 disables rotation.
func WithMaxSize(bytes int64) Option {
	return func(w *Writer) { w.maxSize = bytes }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the logger used for rotation events.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// Writer appends chunks to the current segment. A Writer has at most one
// open file at any time; every open closes the previous segment first.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	current   models.Segment
	closed    []models.Segment
	maxSize   int64
	rotations int
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Writer with no open segment.
func New(opts ...Option) *Writer {
	w := &Writer{
		maxSize: DefaultMaxSize,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "logfile")
	return w
}

// Open creates (truncating if present) the segment at path and makes it
// the only writable segment.
func (w *Writer) Open(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeLocked(); err != nil {
		w.logger.Warn("closing previous segment", "path", w.current.Path, "error", err)
	}
	return w.openLocked(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
}

// OpenNew opens a fresh timestamp-named segment in dir and returns its path.
func (w *Writer) OpenNew(dir string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeLocked(); err != nil {
		w.logger.Warn("closing previous segment", "path", w.current.Path, "error", err)
	}
	path, err := w.createUniqueLocked(dir)
	if err != nil {
		return "", err
	}
	return path, nil
}

// Write appends p to the current segment. If p would bring a non-empty
// segment to the threshold, the segment is rotated first so that p lands
// whole in the new one.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, ErrClosed
	}
	if w.shouldRotate(len(p)) {
		if err := w.rotateLocked(); err != nil {
			return 0, fmt.Errorf("logfile: rotate: %w", err)
		}
	}

	n, err := w.f.Write(p)
	w.current.Size += int64(n)
	if err != nil {
		return n, fmt.Errorf("logfile: write %s: %w", w.current.Path, err)
	}
	return n, nil
}

// WriteString is Write for strings.
func (w *Writer) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Close flushes and releases the current segment. Closing a writer with no
// open segment is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Discard closes the open segment and deletes it if nothing was written.
// A discarded segment is left out of the closed history. A segment that
// already holds data is closed normally and kept.
func (w *Writer) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	if w.current.Size > 0 {
		return w.closeLocked()
	}
	seg := w.current
	err := w.f.Close()
	w.f = nil
	w.current = models.Segment{}
	if rmErr := os.Remove(seg.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("logfile: remove %s: %w", seg.Path, rmErr)
	}
	if err != nil {
		return fmt.Errorf("logfile: close %s: %w", seg.Path, err)
	}
	return nil
}

// Current returns the open segment, if any.
func (w *Writer) Current() (models.Segment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return models.Segment{}, false
	}
	return w.current, true
}

// LastPath returns the open segment's path, or the most recently closed one.
func (w *Writer) LastPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		return w.current.Path
	}
	if len(w.closed) > 0 {
		return w.closed[len(w.closed)-1].Path
	}
	return ""
}

// Closed returns the segments this writer has closed, oldest first.
func (w *Writer) Closed() []models.Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Segment, len(w.closed))
	copy(out, w.closed)
	return out
}

// Rotations returns how many size-triggered rotations happened.
func (w *Writer) Rotations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotations
}

func (w *Writer) shouldRotate(pending int) bool {
	if w.maxSize <= 0 || w.current.Size == 0 {
		return false
	}
	return w.current.Size+int64(pending) >= w.maxSize
}

func (w *Writer) rotateLocked() error {
	old := w.current
	if err := w.closeLocked(); err != nil {
		return err
	}
	path, err := w.createUniqueLocked(filepath.Dir(old.Path))
	if err != nil {
		return err
	}
	w.rotations++
	w.logger.Info("segment rotated", "from", old.Path, "to", path, "size", old.Size)
	return nil
}

// createUniqueLocked opens a new segment in dir with O_EXCL so that two
// rotations within the same second never share a file. Paths this writer
// already used are skipped too: an archived segment is gone from dir but
// its name still identifies it in the history.
func (w *Writer) createUniqueLocked(dir string) (string, error) {
	now := w.now()
	for i := 0; i < maxNameAttempts; i++ {
		path := SegmentPath(dir, now, i)
		if w.usedLocked(path) {
			continue
		}
		err := w.openLocked(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("logfile: no free segment name in %s", dir)
}

func (w *Writer) usedLocked(path string) bool {
	if w.current.Path == path {
		return true
	}
	for _, seg := range w.closed {
		if seg.Path == path {
			return true
		}
	}
	return false
}

func (w *Writer) openLocked(path string, flag int) error {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return fmt.Errorf("logfile: open %s: %w", path, err)
	}
	w.f = f
	w.current = models.Segment{
		Path:      path,
		CreatedAt: w.now(),
		Open:      true,
	}
	return nil
}

func (w *Writer) closeLocked() error {
	if w.f == nil {
		return nil
	}
	syncErr := w.f.Sync()
	err := w.f.Close()
	w.f = nil
	w.current.Open = false
	w.closed = append(w.closed, w.current)
	if err != nil {
		return fmt.Errorf("logfile: close %s: %w", w.current.Path, err)
	}
	if syncErr != nil && !errors.Is(syncErr, os.ErrClosed) {
		return fmt.Errorf("logfile: sync %s: %w", w.current.Path, syncErr)
	}
	return nil
}
