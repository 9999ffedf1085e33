// interfaces.go - Handler and collaborator interfaces for clean separation of concerns
package api

import (
	"context"

	"github.com/apexlog/backend/internal/models"
	"github.com/apexlog/backend/internal/scanner"
	"github.com/apexlog/backend/internal/session"
	"github.com/labstack/echo/v4"
)

// StreamHandler handles the log tail lifecycle and the live buffer
type StreamHandler interface {
	HandleStart(c echo.Context) error
	HandleStop(c echo.Context) error
	HandleStatus(c echo.Context) error
	HandleBuffer(c echo.Context) error
	HandleBufferMsgpack(c echo.Context) error
}

// AnalysisHandler handles analysis, ad-hoc scans, rules and report history
type AnalysisHandler interface {
	HandleAnalyze(c echo.Context) error
	HandleScan(c echo.Context) error
	HandleGetRules(c echo.Context) error
	HandleReloadRules(c echo.Context) error
	HandleHistory(c echo.Context) error
	HandleHistoryReport(c echo.Context) error
	HandleLabelCounts(c echo.Context) error
}

// LogsHandler handles browsing of log files and archive snapshots
type LogsHandler interface {
	HandleListLogs(c echo.Context) error
	HandleLogContent(c echo.Context) error
	HandleListArchives(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// StreamController is the session as seen by the handlers.
// *session.Session implements it.
type StreamController interface {
	Start(ctx context.Context, target string) (models.StartResult, error)
	Stop() models.StopResult
	Status() models.SessionStatus
	Info() models.SessionInfo
	Buffer() *session.Buffer
}

// ReportAnalyzer produces reports. *analysis.Analyzer implements it.
type ReportAnalyzer interface {
	Analyze(ctx context.Context, prompt string) models.AnalysisReport
	Scan(ctx context.Context, text string) models.AnalysisReport
}

// HistoryReader reads stored reports. *history.Store implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Report(ctx context.Context, id string) (models.AnalysisReport, error)
	LabelCounts(ctx context.Context) ([]models.LabelCount, error)
}

// RuleSource exposes the active scanner rules. *scanner.RuleSet implements it.
type RuleSource interface {
	Scanner() *scanner.Scanner
	Path() string
	Reload() error
}

// SnapshotLister lists archive snapshots. *archive.Manager implements it.
type SnapshotLister interface {
	ListSnapshots() ([]models.ArchiveSnapshot, error)
}
