// Package analysis stages the current logs and produces an AnalysisReport,
// from an external agent when one is available and from the built-in
// scanner otherwise.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apexlog/backend/internal/logfile"
	"github.com/apexlog/backend/internal/models"
	"github.com/apexlog/backend/internal/scanner"
)

// DefaultPrompt is used when the caller supplies none.
const DefaultPrompt = "Analyze the Salesforce Apex debug logs in this directory. " +
	"List every error with its cause and suggest concrete fixes."

// Archiver stages the logs for analysis. *session.Session implements it.
type Archiver interface {
	ArchiveForAnalysis() models.ArchiveResult
}

// ScannerSource yields the current scanner. *scanner.RuleSet implements it.
type ScannerSource interface {
	Scanner() *scanner.Scanner
}

// Recorder stores finished reports. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, report models.AnalysisReport) error
}

type staticScanner struct{ s *scanner.Scanner }

func (s staticScanner) Scanner() *scanner.Scanner { return s.s }

// Options configures an Analyzer.
type Options struct {
	Archiver    Archiver
	AnalysisDir string
	Agent       Agent // nil disables the agent
	Scanner     ScannerSource
	Recorder    Recorder // nil disables history
	Logger      *slog.Logger
}

// Analyzer runs one analysis per call.
type Analyzer struct {
	archiver    Archiver
	analysisDir string
	agent       Agent
	scanner     ScannerSource
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an Analyzer.
func New(opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := opts.Scanner
	if src == nil {
		src = staticScanner{scanner.Default()}
	}
	return &Analyzer{
		archiver:    opts.Archiver,
		analysisDir: opts.AnalysisDir,
		agent:       opts.Agent,
		scanner:     src,
		recorder:    opts.Recorder,
		logger:      logger.With("component", "analysis"),
		now:         time.Now,
	}
}

// Analyze archives the current cycle, stages its logs and reports on them.
// Agent failures fall back to the scanner and are never returned.
func (a *Analyzer) Analyze(ctx context.Context, prompt string) models.AnalysisReport {
	if a.archiver != nil {
		a.archiver.ArchiveForAnalysis()
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}

	text, files, err := ReadLogs(a.analysisDir)
	if err != nil {
		a.logger.Warn("reading analysis logs", "dir", a.analysisDir, "error", err)
	}

	var report models.AnalysisReport
	if a.agent != nil && len(files) > 0 {
		report = a.runAgent(ctx, prompt, text)
	} else {
		report = a.scanner.Scanner().Scan(text)
	}
	report.Files = files
	return a.finish(ctx, report)
}

// Scan reports on text with the built-in scanner and records the result.
func (a *Analyzer) Scan(ctx context.Context, text string) models.AnalysisReport {
	return a.finish(ctx, a.scanner.Scanner().Scan(text))
}

func (a *Analyzer) runAgent(ctx context.Context, prompt, text string) models.AnalysisReport {
	scanned := a.scanner.Scanner().Scan(text)

	start := time.Now()
	out, err := a.agent.Run(ctx, a.analysisDir, prompt)
	if err != nil {
		a.logger.Warn("agent failed, using scanner", "error", err, "elapsed", time.Since(start))
		return scanned
	}
	a.logger.Info("agent analysis complete", "elapsed", time.Since(start), "bytes", len(out))

	return models.AnalysisReport{
		Source:     models.SourceAgent,
		Findings:   scanned.Findings,
		Labels:     scanned.Labels,
		Summary:    out,
		QuickFixes: []string{},
	}
}

func (a *Analyzer) finish(ctx context.Context, report models.AnalysisReport) models.AnalysisReport {
	report.ID = uuid.New().String()
	report.CreatedAt = a.now()
	if a.recorder != nil {
		if err := a.recorder.Record(ctx, report); err != nil {
			a.logger.Error("recording report", "id", report.ID, "error", err)
		}
	}
	return report
}

// ReadLogs concatenates the log files of dir in name order, which is
// creation order for segment names. A missing dir yields no text.
func ReadLogs(dir string) (string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && logfile.IsSegmentName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	files := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return sb.String(), files, fmt.Errorf("reading %s: %w", name, err)
		}
		sb.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			sb.WriteByte('\n')
		}
		files = append(files, name)
	}
	return sb.String(), files, nil
}
