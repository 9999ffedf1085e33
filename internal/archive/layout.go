// Package archive moves prior log and analysis files into timestamped
// snapshot directories before a new cycle starts.
package archive

import "path/filepath"

const (
	// DefaultMainDirName is the directory holding the streaming segments.
	DefaultMainDirName = ".sf-log"
	// DefaultAnalysisDirName is the working copy staged for analysis.
	DefaultAnalysisDirName = ".sf-log_Analysis"

	snapshotDateLayout = "2006-01-02_15-04-05"
	analysisInfix      = "_archive_"
	mainSubdir         = "main"
	analysisSubdir     = "analysis"
)

// Layout names the directories of one project tree.
type Layout struct {
	Root        string
	MainDir     string
	AnalysisDir string
}

// NewLayout returns the default layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{
		Root:        root,
		MainDir:     filepath.Join(root, DefaultMainDirName),
		AnalysisDir: filepath.Join(root, DefaultAnalysisDirName),
	}
}

// NewNamedLayout returns a layout with custom directory names under root.
// Empty names fall back to the defaults.
func NewNamedLayout(root, mainName, analysisName string) Layout {
	if mainName == "" {
		mainName = DefaultMainDirName
	}
	if analysisName == "" {
		analysisName = DefaultAnalysisDirName
	}
	return Layout{
		Root:        root,
		MainDir:     filepath.Join(root, mainName),
		AnalysisDir: filepath.Join(root, analysisName),
	}
}

// snapshotPrefix is the common prefix of every snapshot directory name,
// derived from the main directory so the two stay visually related.
func (l Layout) snapshotPrefix() string {
	return filepath.Base(l.MainDir) + "_"
}
