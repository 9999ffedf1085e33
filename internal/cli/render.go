package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/apexlog/backend/internal/models"
	"github.com/apexlog/backend/internal/scanner"
)

// ReportRenderer writes an AnalysisReport to an output stream.
type ReportRenderer interface {
	Render(source string, report models.AnalysisReport) error
}

// NewRenderer returns the renderer for format.
func NewRenderer(format string, w io.Writer) ReportRenderer {
	if format == "json" {
		return NewJSONRenderer(w)
	}
	return NewTextRenderer(w)
}

var (
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleClean   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleLabel   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	styleContext = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true)
	styleFix     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// TextRenderer prints findings with severity colors and their context.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer returns a colorized text renderer writing to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Render(source string, report models.AnalysisReport) error {
	var b strings.Builder
	if source != "" {
		b.WriteString(styleHeader.Render(source))
		b.WriteByte('\n')
	}
	if len(report.Findings) == 0 {
		b.WriteString(styleClean.Render(scanner.NoErrorsMessage))
		b.WriteByte('\n')
		_, err := io.WriteString(r.w, b.String())
		return err
	}

	fmt.Fprintf(&b, "%s\n", styleHeader.Render(fmt.Sprintf("%d issue(s): %s", len(report.Findings), strings.Join(report.Labels, ", "))))
	for _, f := range report.Findings {
		for _, line := range f.Before {
			fmt.Fprintf(&b, "      %s\n", styleContext.Render(scanner.Truncate(line, scanner.MaxDisplayLength)))
		}
		fmt.Fprintf(&b, "%5d %s %s %s\n",
			f.Index+1,
			severityTag(f.Severity),
			styleLabel.Render(f.Label),
			scanner.Truncate(f.Line, scanner.MaxDisplayLength))
		for _, line := range f.After {
			fmt.Fprintf(&b, "      %s\n", styleContext.Render(scanner.Truncate(line, scanner.MaxDisplayLength)))
		}
	}
	if len(report.QuickFixes) > 0 {
		b.WriteString(styleHeader.Render("Quick fixes:"))
		b.WriteByte('\n')
		for _, qf := range report.QuickFixes {
			fmt.Fprintf(&b, "  %s %s\n", styleFix.Render("-"), qf)
		}
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func severityTag(s models.Severity) string {
	padded := fmt.Sprintf("%-7s", strings.ToUpper(string(s)))
	if s == models.SeverityWarning {
		return styleWarn.Render(padded)
	}
	return styleError.Render(padded)
}

// JSONRenderer prints one JSON object per report.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a renderer writing JSON lines to w.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

type jsonReport struct {
	File string `json:"file,omitempty"`
	models.AnalysisReport
}

func (r *JSONRenderer) Render(source string, report models.AnalysisReport) error {
	return r.enc.Encode(jsonReport{File: source, AnalysisReport: report})
}
