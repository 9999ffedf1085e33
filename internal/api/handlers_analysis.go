// handlers_analysis.go - Analysis, scan, rules and history handlers
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/apexlog/backend/internal/history"
	"github.com/apexlog/backend/internal/scanner"
)

// maxScanBytes bounds the text accepted by HandleScan.
const maxScanBytes = 32 << 20

// AnalysisHandlerImpl implements the AnalysisHandler interface
type AnalysisHandlerImpl struct {
	analyzer ReportAnalyzer
	rules    RuleSource
	history  HistoryReader
}

// NewAnalysisHandler creates a new analysis handler instance. history may
// be nil when report history is disabled.
func NewAnalysisHandler(analyzer ReportAnalyzer, rules RuleSource, history HistoryReader) AnalysisHandler {
	return &AnalysisHandlerImpl{
		analyzer: analyzer,
		rules:    rules,
		history:  history,
	}
}

type analyzeRequest struct {
	Prompt string `json:"prompt"`
}

type scanRequest struct {
	Text string `json:"text"`
}

// HandleAnalyze archives the current cycle and analyzes its logs
func (h *AnalysisHandlerImpl) HandleAnalyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	report := h.analyzer.Analyze(c.Request().Context(), req.Prompt)
	return c.JSON(http.StatusOK, report)
}

// HandleScan scans raw text, sent as text/plain or as JSON {"text": ...}
func (h *AnalysisHandlerImpl) HandleScan(c echo.Context) error {
	var text string
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var req scanRequest
		if err := c.Bind(&req); err != nil {
			return NewBadRequestError("invalid request body", err)
		}
		text = req.Text
	} else {
		data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxScanBytes+1))
		if err != nil {
			return NewBadRequestError("failed to read body", err)
		}
		if len(data) > maxScanBytes {
			return NewBadRequestError("text too large", nil)
		}
		text = string(data)
	}

	report := h.analyzer.Scan(c.Request().Context(), text)
	return c.JSON(http.StatusOK, report)
}

// HandleGetRules returns the active rules in priority order
func (h *AnalysisHandlerImpl) HandleGetRules(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"path":  h.rules.Path(),
		"rules": scanner.Specs(h.rules.Scanner().Rules()),
	})
}

// HandleReloadRules re-reads the rules file; on failure the old rules stay
func (h *AnalysisHandlerImpl) HandleReloadRules(c echo.Context) error {
	if err := h.rules.Reload(); err != nil {
		return NewBadRequestError("failed to reload rules", err)
	}
	return h.HandleGetRules(c)
}

// HandleHistory returns recent report headers
func (h *AnalysisHandlerImpl) HandleHistory(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("report history is disabled")
	}
	limit := 20
	if s := c.QueryParam("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return NewValidationError("limit")
		}
		limit = v
	}
	entries, err := h.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	return c.JSON(http.StatusOK, entries)
}

// HandleHistoryReport returns one stored report
func (h *AnalysisHandlerImpl) HandleHistoryReport(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("report history is disabled")
	}
	id := c.Param("id")
	report, err := h.history.Report(c.Request().Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		return NewNotFoundError("report", id)
	}
	if err != nil {
		return NewInternalError("failed to read report", err)
	}
	return c.JSON(http.StatusOK, report)
}

// HandleLabelCounts returns label frequencies across stored reports
func (h *AnalysisHandlerImpl) HandleLabelCounts(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("report history is disabled")
	}
	counts, err := h.history.LabelCounts(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to read label counts", err)
	}
	return c.JSON(http.StatusOK, counts)
}
