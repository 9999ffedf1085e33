// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/apexlog/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Stream   StreamController
	Analyzer ReportAnalyzer
	Rules    RuleSource
	History  HistoryReader // nil when history is disabled
	Store    storage.Store
	Archives SnapshotLister
	Version  string

	WSMaxMessageKB int
	Logger         *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Stream    StreamHandler
	Analysis  AnalysisHandler
	Logs      LogsHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Stream),
		Stream:    NewStreamHandler(deps.Stream),
		Analysis:  NewAnalysisHandler(deps.Analyzer, deps.Rules, deps.History),
		Logs:      NewLogsHandler(deps.Store, deps.Archives),
		WebSocket: NewWebSocketHandler(deps.Stream, deps.WSMaxMessageKB, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Log tail lifecycle and live buffer
	streamGroup := apiGroup.Group("/stream")
	streamGroup.POST("/start", handlers.Stream.HandleStart)
	streamGroup.POST("/stop", handlers.Stream.HandleStop)
	streamGroup.GET("/status", handlers.Stream.HandleStatus)
	streamGroup.GET("/buffer", handlers.Stream.HandleBuffer)
	streamGroup.GET("/buffer/msgpack", handlers.Stream.HandleBufferMsgpack)
	streamGroup.GET("/ws", handlers.WebSocket.HandleWebSocket)

	// Analysis and scanning
	apiGroup.POST("/analyze", handlers.Analysis.HandleAnalyze)
	apiGroup.POST("/scan", handlers.Analysis.HandleScan)
	apiGroup.GET("/rules", handlers.Analysis.HandleGetRules)
	apiGroup.POST("/rules/reload", handlers.Analysis.HandleReloadRules)

	// Report history
	apiGroup.GET("/history", handlers.Analysis.HandleHistory)
	apiGroup.GET("/history/labels", handlers.Analysis.HandleLabelCounts)
	apiGroup.GET("/history/:id", handlers.Analysis.HandleHistoryReport)

	// Log files and archives
	apiGroup.GET("/logs", handlers.Logs.HandleListLogs)
	apiGroup.GET("/logs/content", handlers.Logs.HandleLogContent)
	apiGroup.GET("/archives", handlers.Logs.HandleListArchives)
}

// MiddlewareConfig selects the optional middleware
type MiddlewareConfig struct {
	EnableCORS     bool
	AllowOrigins   string
	BodyLimit      string
	RequestLogging bool
	Logger         *slog.Logger
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api/health" ||
					strings.HasSuffix(path, "/status") ||
					strings.HasSuffix(path, "/buffer")
			},
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				level := slog.LevelInfo
				if v.Status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				attrs := []slog.Attr{
					slog.String("method", v.Method),
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.Duration("latency", v.Latency),
				}
				if v.Error != nil {
					attrs = append(attrs, slog.String("error", v.Error.Error()))
				}
				logger.LogAttrs(context.Background(), level, "request", attrs...)
				return nil
			},
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := strings.Split(cfg.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
