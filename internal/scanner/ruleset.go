package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RuleSet holds the active Scanner and swaps it when the rules file changes.
// Readers always get a complete Scanner; a failed reload keeps the old one.
type RuleSet struct {
	mu      sync.RWMutex
	scanner *Scanner
	path    string
	logger  *slog.Logger
}

// NewRuleSet loads rules from path, or uses DefaultRules when path is empty.
func NewRuleSet(path string, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RuleSet{path: path, logger: logger.With("component", "rules")}
	if path == "" {
		rs.scanner = Default()
		return rs, nil
	}
	if err := rs.Reload(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Scanner returns the current scanner.
func (rs *RuleSet) Scanner() *Scanner {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.scanner
}

// Path returns the rules file backing this set, if any.
func (rs *RuleSet) Path() string {
	return rs.path
}

// Reload re-reads the rules file.
func (rs *RuleSet) Reload() error {
	if rs.path == "" {
		return nil
	}
	rules, err := LoadRules(rs.path)
	if err != nil {
		return fmt.Errorf("loading rules %s: %w", rs.path, err)
	}
	rs.mu.Lock()
	rs.scanner = New(rules)
	rs.mu.Unlock()
	rs.logger.Info("rules loaded", "path", rs.path, "count", len(rules))
	return nil
}

// Watch reloads the rules whenever the file is written or replaced. The
// parent directory is watched since editors often save by rename. Blocks
// until ctx is cancelled.
func (rs *RuleSet) Watch(ctx context.Context) error {
	if rs.path == "" {
		<-ctx.Done()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rules watcher: %w", err)
	}
	defer fsw.Close()

	target := filepath.Clean(rs.path)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := rs.Reload(); err != nil {
				rs.logger.Warn("keeping previous rules", "error", err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			rs.logger.Warn("rules watcher error", "error", err)
		}
	}
}
