// manager_test.go - Tests for the log file catalog
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isLog(name string) bool { return strings.HasSuffix(name, ".log") }

func createTestStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewLocalStore(root, isLog)
	require.NoError(t, err)
	return store, store.Root()
}

func writeAt(t *testing.T, root, rel, content string, mod time.Time) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates store successfully", func(t *testing.T) {
		store, root := createTestStore(t)
		if store == nil {
			t.Fatal("Expected store to be created")
		}
		if root == "" {
			t.Error("Expected root to be set")
		}
	})

	t.Run("rejects missing root", func(t *testing.T) {
		_, err := NewLocalStore(filepath.Join(t.TempDir(), "missing"), nil)
		if err == nil {
			t.Error("Expected error for missing root")
		}
	})

	t.Run("rejects file root", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(file, nil, 0644))
		_, err := NewLocalStore(file, nil)
		assert.Error(t, err)
	})
}

func TestLocalStore_List(t *testing.T) {
	store, root := createTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	writeAt(t, root, ".sf-log/apex-a.log", "a", base)
	writeAt(t, root, ".sf-log/apex-b.log", "bb", base.Add(time.Minute))
	writeAt(t, root, ".sf-log_2026-03-01_09-00-00/old.log", "old", base.Add(-time.Hour))
	writeAt(t, root, ".sf-log/notes.txt", "ignored", base)

	t.Run("lists whole root newest first", func(t *testing.T) {
		files, err := store.List("", 0)
		require.NoError(t, err)
		require.Len(t, files, 3)
		assert.Equal(t, ".sf-log/apex-b.log", files[0].Path)
		assert.Equal(t, ".sf-log", files[0].Dir)
		assert.Equal(t, int64(2), files[0].Size)
		assert.Equal(t, ".sf-log_2026-03-01_09-00-00/old.log", files[2].Path)
	})

	t.Run("respects limit", func(t *testing.T) {
		files, err := store.List("", 1)
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("lists a subdirectory", func(t *testing.T) {
		files, err := store.List(".sf-log", 0)
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := store.List("nope", 0)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("rejects escape", func(t *testing.T) {
		_, err := store.List("../", 0)
		assert.ErrorIs(t, err, ErrOutsideRoot)
	})
}

func TestLocalStore_GetAndOpen(t *testing.T) {
	store, root := createTestStore(t)
	writeAt(t, root, ".sf-log/apex-a.log", "USER_DEBUG|hi\n", time.Now())

	info, err := store.Get(".sf-log/apex-a.log")
	require.NoError(t, err)
	assert.Equal(t, "apex-a.log", info.Name)

	rc, opened, err := store.Open(".sf-log/apex-a.log")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "USER_DEBUG|hi\n", string(data))
	assert.Equal(t, info.Path, opened.Path)

	_, err = store.Get(".sf-log/missing.log")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(".sf-log")
	assert.ErrorIs(t, err, ErrNotFound, "directories are not files")
}

func TestLocalStore_PathConfinement(t *testing.T) {
	store, root := createTestStore(t)
	outside := t.TempDir()
	writeAt(t, outside, "secret.log", "secret", time.Now())

	for _, p := range []string{"../secret.log", "/etc/passwd", ".sf-log/../../secret.log"} {
		_, err := store.Get(p)
		assert.ErrorIs(t, err, ErrOutsideRoot, p)
	}

	link := filepath.Join(root, "escape.log")
	if err := os.Symlink(filepath.Join(outside, "secret.log"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, _, err := store.Open("escape.log")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestFilter(t *testing.T) {
	store, root := createTestStore(t)
	now := time.Now()
	writeAt(t, root, ".sf-log/apex-a.log", "a", now)
	writeAt(t, root, ".sf-log_archive_2026-01-01_00-00-00/main/apex-b.log", "b", now.Add(-time.Minute))
	writeAt(t, root, ".sf-log_archive_2026-01-01_00-00-00/analysis/apex-c.log", "c", now.Add(-2*time.Minute))

	files, err := store.List("", 0)
	require.NoError(t, err)
	require.Len(t, files, 3)

	got, err := Filter(files, ".sf-log_archive_*/**/*.log")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "apex-b.log", got[0].Name)
	assert.Equal(t, "apex-c.log", got[1].Name)

	got, err = Filter(files, "main/*.log")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Filter(files, "[")
	assert.True(t, errors.Is(err, ErrBadPattern))
}
