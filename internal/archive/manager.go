package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apexlog/backend/internal/logfile"
	"github.com/apexlog/backend/internal/models"
)

// maxSnapshotAttempts bounds the _N suffix search for a free snapshot name.
const maxSnapshotAttempts = 100

// SegmentCycler lets the archiver close the live segment before moving
// files and reopen one afterwards when a stream is still running.
type SegmentCycler interface {
	CloseSegment() error
	// ResumeSegment opens a new segment in the main directory if the stream
	// is running. It returns the new path, or "" when idle.
	ResumeSegment() (string, error)
}

// Manager archives the main and analysis directories of a Layout.
type Manager struct {
	layout Layout
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	staged map[string]int64 // analysis files copied in by the last cycle
}

// NewManager creates an archive manager for layout.
func NewManager(layout Layout, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		layout: layout,
		now:    time.Now,
		logger: logger.With("component", "archive"),
	}
}

// SetClock replaces time.Now, mostly for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Layout returns the directories this manager works on.
func (m *Manager) Layout() Layout {
	return m.layout
}

// ArchivePreAudit moves every log file of the main directory into a fresh
// snapshot directory. Nothing is created when there are no log files.
func (m *Manager) ArchivePreAudit() (models.ArchiveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result models.ArchiveResult
	files := listFiles(m.layout.MainDir, logfile.IsSegmentName)
	if len(files) == 0 {
		return result, nil
	}

	snap, err := m.createSnapshot(models.SnapshotAudit)
	if err != nil {
		return result, err
	}
	result.Snapshot = snap

	for _, name := range files {
		src := filepath.Join(m.layout.MainDir, name)
		if err := moveFile(src, filepath.Join(snap.Path, name)); err != nil {
			m.logger.Warn("skipping file", "file", src, "error", err)
			result.Skipped = append(result.Skipped, src)
			continue
		}
		result.Moved++
	}
	result.MovedMain = result.Moved > 0

	m.logger.Info("pre-audit archive", "snapshot", snap.Path, "moved", result.Moved, "skipped", len(result.Skipped))
	return result, nil
}

// ArchivePreAnalysis snapshots the main and analysis directories into one
// shared archive and stages a copy of the archived main files in a fresh
// analysis directory. Per-file failures are logged and skipped. seg may
// be nil when no stream is attached.
func (m *Manager) ArchivePreAnalysis(seg SegmentCycler) models.ArchiveResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result models.ArchiveResult
	if seg != nil {
		if err := seg.CloseSegment(); err != nil {
			m.logger.Warn("closing segment before archive", "error", err)
		}
		defer func() {
			path, err := seg.ResumeSegment()
			if err != nil {
				m.logger.Warn("reopening segment after archive", "error", err)
				return
			}
			if path != "" {
				m.logger.Info("stream continues", "segment", path)
			}
		}()
	}

	mainFiles := listFiles(m.layout.MainDir, nil)
	analysisFiles := listFiles(m.layout.AnalysisDir, nil)
	if len(mainFiles) == 0 && m.isStagedCopy(analysisFiles) {
		analysisFiles = nil
	}
	if len(mainFiles) == 0 && len(analysisFiles) == 0 {
		return result
	}

	snap, err := m.createSnapshot(models.SnapshotAnalysis)
	if err != nil {
		m.logger.Error("creating analysis snapshot", "error", err)
		return result
	}
	result.Snapshot = snap

	if len(analysisFiles) > 0 {
		moved := m.moveInto(m.layout.AnalysisDir, analysisFiles, filepath.Join(snap.Path, analysisSubdir), &result)
		result.MovedAnalysis = len(moved) > 0
	}

	var movedMain []string
	if len(mainFiles) > 0 {
		movedMain = m.moveInto(m.layout.MainDir, mainFiles, filepath.Join(snap.Path, mainSubdir), &result)
		result.MovedMain = len(movedMain) > 0
	}

	if err := os.MkdirAll(m.layout.AnalysisDir, 0755); err != nil {
		m.logger.Error("recreating analysis directory", "dir", m.layout.AnalysisDir, "error", err)
		return result
	}

	m.staged = make(map[string]int64, len(movedMain))
	for _, name := range movedMain {
		src := filepath.Join(snap.Path, mainSubdir, name)
		dst := filepath.Join(m.layout.AnalysisDir, name)
		n, err := copyFile(src, dst)
		if err != nil {
			m.logger.Warn("skipping copy", "file", src, "error", err)
			result.Skipped = append(result.Skipped, src)
			continue
		}
		m.staged[name] = n
		result.Copied++
	}

	m.logger.Info("pre-analysis archive",
		"snapshot", snap.Path,
		"movedMain", result.MovedMain,
		"movedAnalysis", result.MovedAnalysis,
		"copied", result.Copied,
		"skipped", len(result.Skipped))
	return result
}

// ListSnapshots returns the snapshot directories next to the main
// directory, newest first.
func (m *Manager) ListSnapshots() ([]models.ArchiveSnapshot, error) {
	entries, err := os.ReadDir(m.layout.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.ArchiveSnapshot{}, nil
		}
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	prefix := m.layout.snapshotPrefix()
	analysisName := filepath.Base(m.layout.AnalysisDir)
	snaps := make([]models.ArchiveSnapshot, 0)
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == analysisName || !strings.HasPrefix(name, prefix) {
			continue
		}
		snap := models.ArchiveSnapshot{
			Name: name,
			Path: filepath.Join(m.layout.Root, name),
			Kind: models.SnapshotAudit,
		}
		stamp := strings.TrimPrefix(name, prefix)
		if strings.HasPrefix(name, strings.TrimSuffix(prefix, "_")+analysisInfix) {
			snap.Kind = models.SnapshotAnalysis
			stamp = strings.TrimPrefix(name, strings.TrimSuffix(prefix, "_")+analysisInfix)
		}
		if len(stamp) >= len(snapshotDateLayout) {
			if ts, err := time.ParseInLocation(snapshotDateLayout, stamp[:len(snapshotDateLayout)], time.Local); err == nil {
				snap.CreatedAt = ts
			}
		}
		if snap.CreatedAt.IsZero() {
			if info, err := e.Info(); err == nil {
				snap.CreatedAt = info.ModTime()
			}
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].Name > snaps[j].Name
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// createSnapshot makes a new, previously non-existent snapshot directory.
// Names that already exist get a _N suffix.
func (m *Manager) createSnapshot(kind models.SnapshotKind) (*models.ArchiveSnapshot, error) {
	now := m.now()
	base := filepath.Base(m.layout.MainDir) + "_"
	if kind == models.SnapshotAnalysis {
		base = filepath.Base(m.layout.MainDir) + analysisInfix
	}
	base += now.Format(snapshotDateLayout)

	if err := os.MkdirAll(m.layout.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating project root: %w", err)
	}
	for i := 1; i <= maxSnapshotAttempts; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		path := filepath.Join(m.layout.Root, name)
		err := os.Mkdir(path, 0755)
		if err == nil {
			return &models.ArchiveSnapshot{Name: name, Path: path, Kind: kind, CreatedAt: now}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating snapshot %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("no free snapshot name for %s", base)
}

// moveInto moves names from srcDir into dstDir and returns the ones moved.
func (m *Manager) moveInto(srcDir string, names []string, dstDir string, result *models.ArchiveResult) []string {
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		m.logger.Error("creating archive folder", "dir", dstDir, "error", err)
		for _, name := range names {
			result.Skipped = append(result.Skipped, filepath.Join(srcDir, name))
		}
		return nil
	}
	moved := make([]string, 0, len(names))
	for _, name := range names {
		src := filepath.Join(srcDir, name)
		if err := moveFile(src, filepath.Join(dstDir, name)); err != nil {
			m.logger.Warn("skipping file", "file", src, "error", err)
			result.Skipped = append(result.Skipped, src)
			continue
		}
		moved = append(moved, name)
		result.Moved++
	}
	return moved
}

// isStagedCopy reports whether the analysis files are exactly the copy the
// previous cycle staged, which is already preserved in that snapshot.
func (m *Manager) isStagedCopy(names []string) bool {
	if len(names) == 0 || len(names) != len(m.staged) {
		return false
	}
	for _, name := range names {
		size, ok := m.staged[name]
		if !ok {
			return false
		}
		info, err := os.Stat(filepath.Join(m.layout.AnalysisDir, name))
		if err != nil || info.Size() != size {
			return false
		}
	}
	return true
}

// listFiles returns the regular files of dir accepted by keep (nil keeps
// all). A missing directory has no files.
func listFiles(dir string, keep func(string) bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if keep != nil && !keep(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

// moveFile renames src to dst, falling back to copy+remove across devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if _, err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return 0, err
	}
	return n, nil
}
