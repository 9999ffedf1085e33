// handlers_logs.go - Log file and archive browsing handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/apexlog/backend/internal/storage"
)

// LogsHandlerImpl implements the LogsHandler interface
type LogsHandlerImpl struct {
	store    storage.Store
	archives SnapshotLister
}

// NewLogsHandler creates a new logs handler instance
func NewLogsHandler(store storage.Store, archives SnapshotLister) LogsHandler {
	return &LogsHandlerImpl{store: store, archives: archives}
}

// HandleListLogs lists log files under ?dir= (default: the whole project),
// optionally filtered by a ?pattern= glob on the relative path
func (h *LogsHandlerImpl) HandleListLogs(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return NewValidationError("limit")
		}
		limit = v
	}
	dir := c.QueryParam("dir")
	pattern := c.QueryParam("pattern")
	listLimit := limit
	if pattern != "" {
		listLimit = 0
	}
	files, err := h.store.List(dir, listLimit)
	if err != nil {
		return storageError(err, "directory", dir)
	}
	if pattern != "" {
		if files, err = storage.Filter(files, pattern); err != nil {
			return NewValidationError("pattern")
		}
		if limit > 0 && len(files) > limit {
			files = files[:limit]
		}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleLogContent streams one log file as plain text
func (h *LogsHandlerImpl) HandleLogContent(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return NewValidationError("path")
	}
	rc, info, err := h.store.Open(path)
	if err != nil {
		return storageError(err, "file", path)
	}
	defer rc.Close()

	c.Response().Header().Set("X-Log-Size", strconv.FormatInt(info.Size, 10))
	return c.Stream(http.StatusOK, "text/plain; charset=utf-8", rc)
}

// HandleListArchives lists archive snapshots, newest first
func (h *LogsHandlerImpl) HandleListArchives(c echo.Context) error {
	snaps, err := h.archives.ListSnapshots()
	if err != nil {
		return NewInternalError("failed to list archives", err)
	}
	return c.JSON(http.StatusOK, snaps)
}

func storageError(err error, resource, id string) error {
	switch {
	case errors.Is(err, storage.ErrOutsideRoot):
		return NewForbiddenPathError(id)
	case errors.Is(err, storage.ErrNotFound):
		return NewNotFoundError(resource, id)
	default:
		return NewInternalError("failed to read "+resource, err)
	}
}
