// Package storage exposes the log files under the project root, read-only.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/apexlog/backend/internal/models"
)

var (
	// ErrOutsideRoot is returned for paths escaping the project root.
	ErrOutsideRoot = errors.New("path outside project root")
	// ErrNotFound is returned for missing files.
	ErrNotFound = errors.New("file not found")
	// ErrBadPattern is returned for malformed glob patterns.
	ErrBadPattern = errors.New("invalid glob pattern")
)

// Store defines the interface for browsing log files.
type Store interface {
	List(dir string, limit int) ([]*models.FileInfo, error)
	Get(path string) (*models.FileInfo, error)
	Open(path string) (io.ReadCloser, *models.FileInfo, error)
}

// LocalStore implements Store over a directory tree on the local filesystem.
// Paths are relative to the root and never leave it.
type LocalStore struct {
	root string
	keep func(name string) bool
}

// NewLocalStore creates a LocalStore rooted at root, listing files that
// keep accepts (nil accepts every file).
func NewLocalStore(root string, keep func(name string) bool) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &LocalStore{root: abs, keep: keep}, nil
}

// Root returns the absolute root directory.
func (s *LocalStore) Root() string {
	return s.root
}

// List walks dir recursively and returns matching files, newest first.
// An empty dir lists the whole root. limit <= 0 means no limit.
func (s *LocalStore) List(dir string, limit int) ([]*models.FileInfo, error) {
	base, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	list := make([]*models.FileInfo, 0)
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == base {
				return err
			}
			// Unreadable subtrees are skipped.
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.keep != nil && !s.keep(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		list = append(list, s.fileInfo(path, info))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	// Sort by ModTime desc
	sort.Slice(list, func(i, j int) bool {
		if list[i].ModTime.Equal(list[j].ModTime) {
			return list[i].Path < list[j].Path
		}
		return list[i].ModTime.After(list[j].ModTime)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Get retrieves file metadata by relative path.
func (s *LocalStore) Get(path string) (*models.FileInfo, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotFound, path)
	}
	return s.fileInfo(abs, info), nil
}

// Open opens a file for reading. The caller closes it.
func (s *LocalStore) Open(path string) (io.ReadCloser, *models.FileInfo, error) {
	info, err := s.Get(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(info.Path)))
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, info, nil
}

// resolve maps a relative path to an absolute one inside the root,
// following symlinks for the confinement check.
func (s *LocalStore) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if !s.within(abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil && !s.within(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return abs, nil
}

func (s *LocalStore) within(abs string) bool {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (s *LocalStore) fileInfo(abs string, info fs.FileInfo) *models.FileInfo {
	rel, _ := filepath.Rel(s.root, abs)
	rel = filepath.ToSlash(rel)
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "." {
		dir = ""
	}
	return &models.FileInfo{
		Name:    info.Name(),
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Dir:     dir,
	}
}

// Filter keeps the files whose slash path matches a doublestar glob such
// as ".sf-log_archive_*/**/*.log".
func Filter(files []*models.FileInfo, pattern string) ([]*models.FileInfo, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %s", ErrBadPattern, pattern)
	}
	out := make([]*models.FileInfo, 0, len(files))
	for _, f := range files {
		if ok, _ := doublestar.Match(pattern, f.Path); ok {
			out = append(out, f)
		}
	}
	return out, nil
}
