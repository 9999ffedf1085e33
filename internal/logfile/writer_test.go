package logfile

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 15, 0, 1, 0, time.UTC)
	return func() time.Time { return t }
}

func TestOpenTruncatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apex.log")
	require.NoError(t, os.WriteFile(path, []byte("stale content"), 0644))

	w := New()
	require.NoError(t, w.Open(path))
	_, err := w.WriteString("fresh")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestCloseIsIdempotent(t *testing.T) {
	w := New()
	assert.NoError(t, w.Close(), "never opened")

	require.NoError(t, w.Open(filepath.Join(t.TempDir(), "a.log")))
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "already closed")

	_, err := w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRotationHappensBeforeTriggeringWrite(t *testing.T) {
	dir := t.TempDir()
	w := New(WithMaxSize(100), WithClock(fixedClock()))
	first := filepath.Join(dir, "first.log")
	require.NoError(t, w.Open(first))

	_, err := w.Write(bytes.Repeat([]byte("a"), 60))
	require.NoError(t, err)
	assert.Equal(t, 0, w.Rotations())

	trigger := bytes.Repeat([]byte("b"), 40) // 60+40 reaches the threshold
	_, err = w.Write(trigger)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Rotations())

	seg, ok := w.Current()
	require.True(t, ok)
	assert.NotEqual(t, first, seg.Path)
	assert.Equal(t, int64(len(trigger)), seg.Size)
	require.NoError(t, w.Close())

	old, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("a"), 60), old)

	fresh, err := os.ReadFile(seg.Path)
	require.NoError(t, err)
	assert.Equal(t, trigger, fresh)
}

func TestRotationNamesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	w := New(WithMaxSize(10), WithClock(fixedClock()))
	_, err := w.OpenNew(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("0123456789"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
	assert.Equal(t, 4, w.Rotations())

	seen := make(map[string]bool)
	for _, seg := range w.Closed() {
		assert.False(t, seen[seg.Path], "duplicate segment %s", seg.Path)
		seen[seg.Path] = true
		assert.Equal(t, int64(10), seg.Size)
	}
}

func TestOversizedFirstWriteDoesNotRotate(t *testing.T) {
	w := New(WithMaxSize(10))
	require.NoError(t, w.Open(filepath.Join(t.TempDir(), "a.log")))
	_, err := w.Write(bytes.Repeat([]byte("x"), 50))
	require.NoError(t, err)
	assert.Equal(t, 0, w.Rotations())
	require.NoError(t, w.Close())
}

func TestOnlyOneOpenSegment(t *testing.T) {
	dir := t.TempDir()
	w := New()
	require.NoError(t, w.Open(filepath.Join(dir, "a.log")))
	require.NoError(t, w.Open(filepath.Join(dir, "b.log")))

	closed := w.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, filepath.Join(dir, "a.log"), closed[0].Path)
	assert.False(t, closed[0].Open)
	assert.Equal(t, filepath.Join(dir, "b.log"), w.LastPath())
	require.NoError(t, w.Close())
	assert.Equal(t, filepath.Join(dir, "b.log"), w.LastPath())
}

func TestConcurrentWritesAreNotInterleaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	w := New(WithMaxSize(0))
	require.NoError(t, w.Open(path))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(c byte) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = w.Write(append(bytes.Repeat([]byte{c}, 31), '\n'))
			}
		}(byte('a' + g))
	}
	wg.Wait()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 400)
	for _, line := range lines {
		assert.Equal(t, bytes.Repeat(line[:1], 31), line)
	}
}

func TestSegmentPath(t *testing.T) {
	ts := time.Date(2026, 3, 1, 15, 0, 1, 0, time.UTC)
	assert.Equal(t, filepath.Join("d", "apex-2026-03-01T15-00-01.log"), SegmentPath("d", ts, 0))
	assert.Equal(t, filepath.Join("d", "apex-2026-03-01T15-00-01-2.log"), SegmentPath("d", ts, 2))
	assert.True(t, IsSegmentName("apex-x.log"))
	assert.False(t, IsSegmentName("notes.txt"))
}

func TestOpenNewSkipsNamesOfMovedSegments(t *testing.T) {
	dir := t.TempDir()
	w := New(WithClock(fixedClock()))
	first, err := w.OpenNew(dir)
	require.NoError(t, err)
	_, err = w.WriteString("before archive\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// An archive moves the segment away within the same second.
	require.NoError(t, os.Remove(first))

	second, err := w.OpenNew(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, SegmentPath(dir, fixedClock()(), 1), second)
	require.NoError(t, w.Close())

	closed := w.Closed()
	require.Len(t, closed, 2)
	assert.Equal(t, first, closed[0].Path)
	assert.Equal(t, second, closed[1].Path)
}

func TestDiscardRemovesEmptySegment(t *testing.T) {
	dir := t.TempDir()
	w := New(WithClock(fixedClock()))
	kept, err := w.OpenNew(dir)
	require.NoError(t, err)
	_, err = w.WriteString("data\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	unused, err := w.OpenNew(dir)
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	assert.NoFileExists(t, unused)
	assert.FileExists(t, kept)
	assert.Equal(t, kept, w.LastPath())
	require.Len(t, w.Closed(), 1)
	_, open := w.Current()
	assert.False(t, open)

	require.NoError(t, w.Discard(), "discarding with nothing open is a no-op")
}

func TestDiscardKeepsSegmentWithData(t *testing.T) {
	w := New(WithClock(fixedClock()))
	path, err := w.OpenNew(t.TempDir())
	require.NoError(t, err)
	_, err = w.WriteString("data\n")
	require.NoError(t, err)

	require.NoError(t, w.Discard())
	assert.FileExists(t, path)
	assert.Equal(t, path, w.LastPath())
}
