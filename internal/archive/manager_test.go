package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apexlog/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCycler struct {
	running  bool
	closed   int
	resumed  int
	mainDir  string
	openPath string
}

func (f *fakeCycler) CloseSegment() error {
	f.closed++
	return nil
}

func (f *fakeCycler) ResumeSegment() (string, error) {
	f.resumed++
	if !f.running {
		return "", nil
	}
	f.openPath = filepath.Join(f.mainDir, "apex-resumed.log")
	return f.openPath, os.WriteFile(f.openPath, nil, 0644)
}

func newTestManager(t *testing.T) (*Manager, Layout) {
	t.Helper()
	layout := NewLayout(t.TempDir())
	m := NewManager(layout, nil)
	clock := time.Date(2026, 3, 1, 15, 0, 1, 0, time.Local)
	m.SetClock(func() time.Time { return clock })
	return m, layout
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestArchivePreAudit_NoopWithoutLogs(t *testing.T) {
	t.Run("missing main directory", func(t *testing.T) {
		m, layout := newTestManager(t)
		result, err := m.ArchivePreAudit()
		require.NoError(t, err)
		assert.Nil(t, result.Snapshot)
		assert.Empty(t, dirNames(t, layout.Root))
	})

	t.Run("empty main directory", func(t *testing.T) {
		m, layout := newTestManager(t)
		require.NoError(t, os.MkdirAll(layout.MainDir, 0755))
		writeFile(t, layout.MainDir, "notes.txt", "not a log")

		result, err := m.ArchivePreAudit()
		require.NoError(t, err)
		assert.Nil(t, result.Snapshot)
		assert.Equal(t, []string{DefaultMainDirName}, dirNames(t, layout.Root))
	})
}

func TestArchivePreAudit_MovesLogs(t *testing.T) {
	m, layout := newTestManager(t)
	writeFile(t, layout.MainDir, "apex-1.log", "one")
	writeFile(t, layout.MainDir, "apex-2.log", "two")

	result, err := m.ArchivePreAudit()
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, ".sf-log_2026-03-01_15-00-01", result.Snapshot.Name)
	assert.Equal(t, 2, result.Moved)
	assert.True(t, result.MovedMain)

	assert.Empty(t, dirNames(t, layout.MainDir))
	assert.ElementsMatch(t, []string{"apex-1.log", "apex-2.log"}, dirNames(t, result.Snapshot.Path))
}

func TestArchive_SnapshotNamesNeverCollide(t *testing.T) {
	m, layout := newTestManager(t)

	var names []string
	for i := 0; i < 3; i++ {
		writeFile(t, layout.MainDir, "apex.log", "x")
		result, err := m.ArchivePreAudit()
		require.NoError(t, err)
		require.NotNil(t, result.Snapshot)
		names = append(names, result.Snapshot.Name)
	}
	assert.Equal(t, []string{
		".sf-log_2026-03-01_15-00-01",
		".sf-log_2026-03-01_15-00-01_2",
		".sf-log_2026-03-01_15-00-01_3",
	}, names)
}

func TestArchivePreAnalysis_CopiesMainIntoAnalysis(t *testing.T) {
	m, layout := newTestManager(t)
	writeFile(t, layout.MainDir, "apex-1.log", "main log")
	writeFile(t, layout.AnalysisDir, "old.log", "old analysis")

	result := m.ArchivePreAnalysis(nil)
	require.NotNil(t, result.Snapshot)
	assert.True(t, result.MovedMain)
	assert.True(t, result.MovedAnalysis)
	assert.Equal(t, 1, result.Copied)
	assert.Equal(t, ".sf-log_archive_2026-03-01_15-00-01", result.Snapshot.Name)

	archived, err := os.ReadFile(filepath.Join(result.Snapshot.Path, "main", "apex-1.log"))
	require.NoError(t, err)
	assert.Equal(t, "main log", string(archived))

	old, err := os.ReadFile(filepath.Join(result.Snapshot.Path, "analysis", "old.log"))
	require.NoError(t, err)
	assert.Equal(t, "old analysis", string(old))

	assert.Equal(t, []string{"apex-1.log"}, dirNames(t, layout.AnalysisDir))
	staged, err := os.ReadFile(filepath.Join(layout.AnalysisDir, "apex-1.log"))
	require.NoError(t, err)
	assert.Equal(t, "main log", string(staged))
	assert.Empty(t, dirNames(t, layout.MainDir))
}

func TestArchivePreAnalysis_TwiceCreatesOneSnapshot(t *testing.T) {
	m, layout := newTestManager(t)
	writeFile(t, layout.MainDir, "apex-1.log", "main log")

	first := m.ArchivePreAnalysis(nil)
	require.NotNil(t, first.Snapshot)

	second := m.ArchivePreAnalysis(nil)
	assert.Nil(t, second.Snapshot)
	assert.False(t, second.MovedMain)
	assert.False(t, second.MovedAnalysis)

	snaps, err := m.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestArchivePreAnalysis_ModifiedStagingIsArchived(t *testing.T) {
	m, layout := newTestManager(t)
	writeFile(t, layout.MainDir, "apex-1.log", "main log")
	m.ArchivePreAnalysis(nil)

	writeFile(t, layout.AnalysisDir, "apex-1.log", "edited by hand")
	result := m.ArchivePreAnalysis(nil)
	require.NotNil(t, result.Snapshot)
	assert.True(t, result.MovedAnalysis)
	assert.False(t, result.MovedMain)
}

func TestArchivePreAnalysis_CyclesSegment(t *testing.T) {
	m, layout := newTestManager(t)
	writeFile(t, layout.MainDir, "apex-1.log", "main log")
	cycler := &fakeCycler{running: true, mainDir: layout.MainDir}

	result := m.ArchivePreAnalysis(cycler)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, 1, cycler.closed)
	assert.Equal(t, 1, cycler.resumed)
	assert.Equal(t, []string{"apex-resumed.log"}, dirNames(t, layout.MainDir))

	idle := &fakeCycler{}
	m.ArchivePreAnalysis(idle)
	assert.Equal(t, 1, idle.closed)
	assert.Equal(t, 1, idle.resumed)
}

func TestArchivePreAnalysis_SkipsFailingFiles(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	m, layout := newTestManager(t)
	writeFile(t, layout.MainDir, "apex-1.log", "readable")
	writeFile(t, layout.MainDir, "apex-2.log", "readable too")

	// A read-only analysis dir makes the staging copies fail.
	require.NoError(t, os.MkdirAll(layout.AnalysisDir, 0555))
	t.Cleanup(func() { os.Chmod(layout.AnalysisDir, 0755) })

	result := m.ArchivePreAnalysis(nil)
	require.NotNil(t, result.Snapshot)
	assert.True(t, result.MovedMain)
	assert.Equal(t, 0, result.Copied)
	assert.Len(t, result.Skipped, 2)
}

func TestListSnapshots(t *testing.T) {
	m, layout := newTestManager(t)
	writeFile(t, layout.MainDir, "apex-1.log", "x")
	_, err := m.ArchivePreAudit()
	require.NoError(t, err)

	m.SetClock(func() time.Time { return time.Date(2026, 3, 1, 16, 0, 0, 0, time.Local) })
	writeFile(t, layout.MainDir, "apex-2.log", "y")
	m.ArchivePreAnalysis(nil)

	snaps, err := m.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, models.SnapshotAnalysis, snaps[0].Kind)
	assert.Equal(t, models.SnapshotAudit, snaps[1].Kind)
	assert.True(t, snaps[0].CreatedAt.After(snaps[1].CreatedAt))
}
