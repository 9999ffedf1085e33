package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apexlog/backend/internal/archive"
	"github.com/apexlog/backend/internal/models"
	"github.com/apexlog/backend/internal/session"
	"github.com/apexlog/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newSession(t *testing.T, launcher *testutil.FakeLauncher) (*session.Session, archive.Layout) {
	t.Helper()
	layout := archive.NewLayout(t.TempDir())
	s := session.New(session.Options{
		Layout:        layout,
		Launcher:      launcher,
		DefaultTarget: "dev-org",
		StopTimeout:   50 * time.Millisecond,
	})
	t.Cleanup(func() { s.Stop() })
	return s, layout
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func logFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	return matches
}

func TestStart_StreamsToBufferAndSegment(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, layout := newSession(t, launcher)

	result, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.Started)
	assert.True(t, result.Persisting)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "dev-org", result.Target)
	assert.Equal(t, layout.MainDir, filepath.Dir(result.SegmentPath))
	assert.Equal(t, []string{"dev-org"}, launcher.Targets())
	assert.Equal(t, models.SessionStatusRunning, s.Status())

	proc := launcher.Last()
	require.NoError(t, proc.Emit("USER_DEBUG|hello\n"))
	require.NoError(t, proc.EmitErr("warning: slow org\n"))
	require.NoError(t, proc.Emit("USER_DEBUG|world\n"))

	require.Eventually(t, func() bool {
		_, chunks, _ := s.Buffer().Stats()
		return chunks == 3
	}, waitFor, tick)

	var stderr []string
	for _, c := range s.Snapshot() {
		if c.Stream == models.StreamStderr {
			stderr = append(stderr, c.Text)
		}
	}
	assert.Equal(t, []string{"warning: slow org\n"}, stderr)

	stop := s.Stop()
	assert.True(t, stop.WasRunning)
	assert.Equal(t, result.SegmentPath, stop.SegmentPath)

	content := readFile(t, result.SegmentPath)
	assert.Contains(t, content, "USER_DEBUG|hello\n")
	assert.Contains(t, content, "USER_DEBUG|world\n")
	assert.Contains(t, content, "warning: slow org\n")
	assert.Less(t, strings.Index(content, "hello"), strings.Index(content, "world"))
}

func TestStart_ExplicitTargetOverridesDefault(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, _ := newSession(t, launcher)

	result, err := s.Start(context.Background(), "uat")
	require.NoError(t, err)
	assert.Equal(t, "uat", result.Target)
	assert.Equal(t, "uat", s.Info().Target)
}

func TestStart_ArchivesPreviousLogs(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, layout := newSession(t, launcher)

	require.NoError(t, os.MkdirAll(layout.MainDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(layout.MainDir, "old.log"), []byte("previous run\n"), 0644))

	_, err := s.Start(context.Background(), "")
	require.NoError(t, err)

	snapshots, err := s.Archiver().ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, models.SnapshotAudit, snapshots[0].Kind)
	assert.Equal(t, "previous run\n", readFile(t, filepath.Join(snapshots[0].Path, "old.log")))

	// Only the fresh segment remains in the main directory.
	assert.Len(t, logFiles(t, layout.MainDir), 1)
}

func TestStart_RestartStopsPreviousProcess(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, _ := newSession(t, launcher)

	first, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	firstProc := launcher.Last()

	second, err := s.Start(context.Background(), "")
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1, firstProc.Terminated())
	assert.True(t, firstProc.Exited())
	assert.Equal(t, 1, launcher.Live())
	assert.Equal(t, second.RunID, s.Info().RunID)
}

func TestStart_LaunchFailureLeavesSessionIdle(t *testing.T) {
	launcher := &testutil.FakeLauncher{Err: errors.New("sf: command not found")}
	s, layout := newSession(t, launcher)

	result, err := s.Start(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrLaunchFailed))
	assert.False(t, result.Started)
	assert.Contains(t, result.Error, "sf: command not found")
	assert.Empty(t, result.SegmentPath)
	assert.Equal(t, models.SessionStatusIdle, s.Status())

	// The segment opened for the failed run is removed.
	assert.Empty(t, logFiles(t, layout.MainDir))
	assert.Nil(t, s.Info().Segment)
}

func TestStart_LaunchFailureKeepsLastRealSegment(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, layout := newSession(t, launcher)

	first, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, launcher.Last().Emit("line\n"))
	require.Eventually(t, func() bool { return s.Buffer().Text() != "" }, waitFor, tick)
	assert.Equal(t, first.SegmentPath, s.Stop().SegmentPath)

	launcher.Err = errors.New("sf: org expired")
	_, err = s.Start(context.Background(), "")
	require.Error(t, err)

	s.ArchiveForAnalysis()
	assert.Equal(t, first.SegmentPath, s.Info().LastSegment)
	assert.Equal(t, first.SegmentPath, s.Stop().SegmentPath)
	assert.Empty(t, logFiles(t, layout.MainDir))
}

func TestStart_WriterFailureStreamsBufferOnly(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, layout := newSession(t, launcher)

	// A regular file where the log directory should be.
	require.NoError(t, os.WriteFile(layout.MainDir, []byte("in the way"), 0644))

	result, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.Started)
	assert.False(t, result.Persisting)
	assert.Empty(t, result.SegmentPath)

	require.NoError(t, launcher.Last().Emit("line\n"))
	require.Eventually(t, func() bool {
		return s.Buffer().Text() == "line\n"
	}, waitFor, tick)
}

func TestStop_Idle(t *testing.T) {
	s, _ := newSession(t, &testutil.FakeLauncher{})

	result := s.Stop()
	assert.False(t, result.WasRunning)
	assert.Equal(t, models.SessionStatusIdle, result.Status)
	assert.Empty(t, result.SegmentPath)
}

func TestStop_ClosesSegmentAndClearsBuffer(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, _ := newSession(t, launcher)

	_, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	proc := launcher.Last()
	require.NoError(t, proc.Emit("a\n"))
	require.Eventually(t, func() bool { return s.Buffer().Text() == "a\n" }, waitFor, tick)

	result := s.Stop()
	assert.True(t, result.WasRunning)
	assert.Equal(t, 1, proc.Terminated())
	assert.Zero(t, proc.Killed())
	assert.Equal(t, models.SessionStatusIdle, s.Status())
	assert.Empty(t, s.Snapshot())

	info := s.Info()
	assert.Nil(t, info.Segment)
	assert.Equal(t, result.SegmentPath, info.LastSegment)

	// Stopping again is harmless.
	again := s.Stop()
	assert.False(t, again.WasRunning)
}

func TestStop_EscalatesToKill(t *testing.T) {
	launcher := &testutil.FakeLauncher{IgnoreTerm: true}
	s, _ := newSession(t, launcher)

	_, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	proc := launcher.Last()

	result := s.Stop()
	assert.True(t, result.WasRunning)
	assert.Equal(t, 1, proc.Terminated())
	assert.Equal(t, 1, proc.Killed())
	assert.True(t, proc.Exited())
	assert.Equal(t, models.SessionStatusIdle, s.Status())
}

func TestProcessExit_TransitionsToIdle(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, _ := newSession(t, launcher)

	result, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	proc := launcher.Last()
	require.NoError(t, proc.Emit("last words\n"))
	proc.Exit(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		return s.Status() == models.SessionStatusIdle
	}, waitFor, tick)

	assert.Equal(t, "last words\n", readFile(t, result.SegmentPath))
	assert.Equal(t, result.SegmentPath, s.Info().LastSegment)
	assert.Nil(t, s.Info().Segment)
}

func TestArchiveForAnalysis_WhileRunning(t *testing.T) {
	launcher := &testutil.FakeLauncher{}
	s, layout := newSession(t, launcher)

	start, err := s.Start(context.Background(), "")
	require.NoError(t, err)
	proc := launcher.Last()
	require.NoError(t, proc.Emit("EXCEPTION_THROWN|boom\n"))
	require.Eventually(t, func() bool { return s.Buffer().Text() != "" }, waitFor, tick)

	result := s.ArchiveForAnalysis()
	require.NotNil(t, result.Snapshot)
	assert.True(t, result.MovedMain)

	staged := filepath.Join(layout.AnalysisDir, filepath.Base(start.SegmentPath))
	assert.Equal(t, "EXCEPTION_THROWN|boom\n", readFile(t, staged))

	// A fresh segment receives the rest of the stream.
	info := s.Info()
	require.NotNil(t, info.Segment)
	assert.NotEqual(t, start.SegmentPath, info.Segment.Path)
	assert.Equal(t, start.SegmentPath, info.LastSegment)

	require.NoError(t, proc.Emit("after archive\n"))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(info.Segment.Path)
		return err == nil && string(data) == "after archive\n"
	}, waitFor, tick)
}

func TestArchiveForAnalysis_Idle(t *testing.T) {
	s, layout := newSession(t, &testutil.FakeLauncher{})

	require.NoError(t, os.MkdirAll(layout.MainDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(layout.MainDir, "apex-old.log"), []byte("x"), 0644))

	result := s.ArchiveForAnalysis()
	require.NotNil(t, result.Snapshot)
	assert.Nil(t, s.Info().Segment)
	assert.Empty(t, logFiles(t, layout.MainDir))
	assert.Len(t, logFiles(t, layout.AnalysisDir), 1)
}
