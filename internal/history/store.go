// Package history keeps past analysis reports in a DuckDB file.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/marcboeker/go-duckdb"

	"github.com/apexlog/backend/internal/models"
)

// ErrNotFound is returned for an unknown report ID.
var ErrNotFound = errors.New("report not found")

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id            VARCHAR PRIMARY KEY,
	created_at    TIMESTAMP NOT NULL,
	source        VARCHAR NOT NULL,
	finding_count INTEGER NOT NULL,
	error_count   INTEGER NOT NULL,
	summary       VARCHAR NOT NULL
);
CREATE TABLE IF NOT EXISTS findings (
	report_id VARCHAR NOT NULL,
	idx       INTEGER NOT NULL,
	line_no   INTEGER NOT NULL,
	label     VARCHAR NOT NULL,
	severity  VARCHAR NOT NULL,
	category  VARCHAR NOT NULL,
	line      VARCHAR NOT NULL
);`

// Store is a DuckDB-backed report history.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// DuckDB allows one writer; serialize Record calls.
	writeMu sync.Mutex
}

// Open opens or creates the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history tables: %w", err)
	}

	logger.Info("history store ready", "component", "history", "path", path)
	return &Store{db: db, path: path, logger: logger.With("component", "history")}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Record stores a report and its findings. The report must carry an ID.
func (s *Store) Record(ctx context.Context, report models.AnalysisReport) error {
	if report.ID == "" {
		return errors.New("report has no ID")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, created_at, source, finding_count, error_count, summary) VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID, report.CreatedAt.UTC(), string(report.Source), len(report.Findings), report.ErrorCount(), report.Summary)
	if err != nil {
		return fmt.Errorf("inserting report %s: %w", report.ID, err)
	}
	if len(report.Findings) == 0 {
		return nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		appender, err := duckdb.NewAppenderFromConn(dConn, "", "findings")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, f := range report.Findings {
			err := appender.AppendRow(
				report.ID,
				int32(i),
				int32(f.Index),
				f.Label,
				string(f.Severity),
				string(f.Category),
				f.Line,
			)
			if err != nil {
				return fmt.Errorf("failed to append finding %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	s.logger.Debug("report recorded", "id", report.ID, "findings", len(report.Findings))
	return nil
}

// Recent returns up to limit report headers, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source, finding_count, error_count, summary
		FROM reports
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		var e models.HistoryEntry
		var source string
		var findings, errs int32
		if err := rows.Scan(&e.ID, &e.CreatedAt, &source, &findings, &errs, &e.Summary); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		e.Source = models.ReportSource(source)
		e.FindingCount = int(findings)
		e.ErrorCount = int(errs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Report loads a stored report with its findings. Context lines are not
// stored, so findings come back without them.
func (s *Store) Report(ctx context.Context, id string) (models.AnalysisReport, error) {
	var report models.AnalysisReport
	var source string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, source, summary FROM reports WHERE id = ?`, id).
		Scan(&report.ID, &report.CreatedAt, &source, &report.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return report, ErrNotFound
	}
	if err != nil {
		return report, fmt.Errorf("querying report %s: %w", id, err)
	}
	report.Source = models.ReportSource(source)

	rows, err := s.db.QueryContext(ctx, `
		SELECT line_no, label, severity, category, line
		FROM findings
		WHERE report_id = ?
		ORDER BY idx`, id)
	if err != nil {
		return report, fmt.Errorf("querying findings: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	report.Findings = []models.Finding{}
	report.Labels = []string{}
	for rows.Next() {
		var f models.Finding
		var lineNo int32
		var severity, category string
		if err := rows.Scan(&lineNo, &f.Label, &severity, &category, &f.Line); err != nil {
			return report, fmt.Errorf("scanning finding: %w", err)
		}
		f.Index = int(lineNo)
		f.Severity = models.Severity(severity)
		f.Category = models.Category(category)
		report.Findings = append(report.Findings, f)
		if !seen[f.Label] {
			seen[f.Label] = true
			report.Labels = append(report.Labels, f.Label)
		}
	}
	return report, rows.Err()
}

// LabelCounts returns how often each label was found, most frequent first.
func (s *Store) LabelCounts(ctx context.Context) ([]models.LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, COUNT(*) AS n
		FROM findings
		GROUP BY label
		ORDER BY n DESC, label`)
	if err != nil {
		return nil, fmt.Errorf("querying label counts: %w", err)
	}
	defer rows.Close()

	counts := []models.LabelCount{}
	for rows.Next() {
		var c models.LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning label count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Close closes the database. The file is kept.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
