// mock_storage.go - In-memory log catalog for API tests
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apexlog/backend/internal/models"
	"github.com/apexlog/backend/internal/storage"
)

// MockStorage implements storage.Store for testing
type MockStorage struct {
	mu       sync.RWMutex
	files    map[string]*models.FileInfo
	fileData map[string][]byte
}

// NewMockStorage creates an empty mock catalog.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
	}
}

// AddFile adds a file at a slash-separated relative path.
func (m *MockStorage) AddFile(rel string, data []byte, modTime time.Time) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	file := &models.FileInfo{
		Name:    path.Base(rel),
		Path:    rel,
		Size:    int64(len(data)),
		ModTime: modTime,
		Dir:     dir,
	}
	m.files[rel] = file
	m.fileData[rel] = data
	return file
}

func (m *MockStorage) List(dir string, limit int) ([]*models.FileInfo, error) {
	if strings.HasPrefix(dir, "..") || strings.HasPrefix(dir, "/") {
		return nil, fmt.Errorf("%w: %s", storage.ErrOutsideRoot, dir)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.FileInfo, 0)
	for rel, file := range m.files {
		if dir == "" || strings.HasPrefix(rel, strings.TrimSuffix(dir, "/")+"/") {
			files = append(files, file)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Get(rel string) (*models.FileInfo, error) {
	if strings.Contains(rel, "..") || strings.HasPrefix(rel, "/") {
		return nil, fmt.Errorf("%w: %s", storage.ErrOutsideRoot, rel)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[rel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, rel)
	}
	return file, nil
}

func (m *MockStorage) Open(rel string) (io.ReadCloser, *models.FileInfo, error) {
	file, err := m.Get(rel)
	if err != nil {
		return nil, nil, err
	}
	m.mu.RLock()
	data := m.fileData[rel]
	m.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(data)), file, nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)
