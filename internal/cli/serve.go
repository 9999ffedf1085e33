package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/apexlog/backend/internal/analysis"
	"github.com/apexlog/backend/internal/api"
	"github.com/apexlog/backend/internal/archive"
	"github.com/apexlog/backend/internal/config"
	"github.com/apexlog/backend/internal/history"
	"github.com/apexlog/backend/internal/logfile"
	"github.com/apexlog/backend/internal/logging"
	"github.com/apexlog/backend/internal/scanner"
	"github.com/apexlog/backend/internal/session"
	"github.com/apexlog/backend/internal/storage"
	"github.com/apexlog/backend/internal/web"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve subcommand.
func NewServeCommand(rootOpts *RootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Run the HTTP server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, version)
		},
	}
}

// loadConfig loads and validates the XML config and initializes logging.
func loadConfig(opts *RootOptions) (*config.AppConfig, *slog.Logger, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	level := logging.ParseLevel(cfg.Advanced.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.Init(cfg.Advanced.LogFormat, level)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func layoutFor(cfg *config.AppConfig) archive.Layout {
	return archive.NewNamedLayout(cfg.Project.Root, cfg.Project.MainDirName, cfg.Project.AnalysisDirName)
}

func runServe(cmd *cobra.Command, opts *RootOptions, version string) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout := layoutFor(cfg)
	archiver := archive.NewManager(layout, logger)

	rules, err := scanner.NewRuleSet(cfg.Analysis.RulesFile, logger)
	if err != nil {
		return err
	}
	if cfg.Analysis.WatchRules && rules.Path() != "" {
		go func() {
			if err := rules.Watch(ctx); err != nil {
				logger.Warn("rules watcher stopped", "error", err)
			}
		}()
	}

	writer := logfile.New(
		logfile.WithMaxSize(cfg.Stream.MaxSegmentBytes),
		logfile.WithLogger(logger),
	)
	sess := session.New(session.Options{
		Layout:         layout,
		Launcher:       session.NewSFLauncher(cfg.Stream.Command, cfg.Project.Root),
		Archiver:       archiver,
		Writer:         writer,
		DefaultTarget:  cfg.Stream.TargetOrg,
		StopTimeout:    cfg.StopTimeout(),
		BufferMaxBytes: cfg.Stream.BufferMaxBytes,
		Logger:         logger,
	})

	analyzerOpts := analysis.Options{
		Archiver:    sess,
		AnalysisDir: layout.AnalysisDir,
		Scanner:     rules,
		Logger:      logger,
	}
	if cfg.Analysis.AgentCommand != "" {
		analyzerOpts.Agent = analysis.NewCommandAgent(cfg.Analysis.AgentCommand, cfg.AgentArgs(), cfg.AgentTimeout())
	}

	deps := &api.Dependencies{
		Stream:         sess,
		Rules:          rules,
		Archives:       archiver,
		Version:        version,
		WSMaxMessageKB: cfg.Advanced.WebSocketMaxMessageSize,
		Logger:         logger,
	}

	var store *history.Store
	if cfg.Storage.EnableHistory {
		store, err = history.Open(cfg.HistoryPath(), logger)
		if err != nil {
			logger.Warn("history disabled", "error", err)
		} else {
			defer store.Close()
			analyzerOpts.Recorder = store
			deps.History = store
		}
	}
	deps.Analyzer = analysis.New(analyzerOpts)

	files, err := storage.NewLocalStore(cfg.Project.Root, logfile.IsSegmentName)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	deps.Store = files

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, api.MiddlewareConfig{
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   cfg.Server.AllowOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		Logger:         logger,
	})
	api.RegisterRoutes(e, api.NewHandlers(deps))

	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("static routes not registered", "error", err)
		}
	}

	logger.Info("server starting",
		"version", version,
		"config", opts.ConfigPath,
		"listen", "http://"+cfg.GetServerAddr(),
		"project", cfg.Project.Root,
		"mainDir", layout.MainDir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(cfg.GetServerAddr())
	}()

	select {
	case err := <-errCh:
		sess.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	res := sess.Stop()
	if res.WasRunning {
		logger.Info("stream stopped", "segment", res.SegmentPath)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
