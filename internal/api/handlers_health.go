// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	stream  StreamController
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, stream StreamController) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		stream:  stream,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.stream != nil {
		resp["stream"] = h.stream.Status()
	}
	return c.JSON(http.StatusOK, resp)
}
