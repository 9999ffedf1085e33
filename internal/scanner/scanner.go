package scanner

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/apexlog/backend/internal/models"
	"golang.org/x/text/unicode/norm"
)

const (
	// NoErrorsMessage is the summary of a report without findings.
	NoErrorsMessage = "No errors found in the debug logs."

	// MaxDisplayLength caps each finding line in the summary, in runes.
	MaxDisplayLength = 100

	// ContextLines is the number of lines kept on each side of a match.
	ContextLines = 1
)

// quickFixes holds one suggestion per category, in the order they are listed.
var quickFixes = []struct {
	category models.Category
	text     string
}{
	{models.CategoryValidation, "Review the validation rules and required fields on the records being saved."},
	{models.CategoryException, "Add null checks and try/catch handling around the failing Apex code path."},
	{models.CategoryLimit, "Bulkify SOQL queries and DML statements to stay within governor limits."},
}

// Scanner classifies log lines with an ordered rule set. It holds no
// mutable state, so a single Scanner may be shared between goroutines.
type Scanner struct {
	rules []Rule
}

// New returns a Scanner over rules. The slice is copied.
func New(rules []Rule) *Scanner {
	rs := make([]Rule, len(rules))
	copy(rs, rules)
	return &Scanner{rules: rs}
}

// Default returns a Scanner with DefaultRules.
func Default() *Scanner {
	return New(DefaultRules())
}

// Rules returns a copy of the scanner's rules in priority order.
func (s *Scanner) Rules() []Rule {
	rs := make([]Rule, len(s.rules))
	copy(rs, s.rules)
	return rs
}

// Scan splits text into lines and returns the classified findings. It never
// fails: empty or unmatched input yields the no-errors report.
func (s *Scanner) Scan(text string) models.AnalysisReport {
	lines := SplitLines(text)
	findings := make([]models.Finding, 0)

	for i, line := range lines {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		rule, ok := s.match(line.Text)
		if !ok {
			continue
		}
		findings = append(findings, models.Finding{
			Line:     strings.TrimSpace(line.Text),
			Index:    line.Index,
			Label:    rule.Label,
			Severity: rule.Severity,
			Category: rule.Category,
			Before:   contextBefore(lines, i),
			After:    contextAfter(lines, i),
		})
	}

	return buildReport(findings)
}

// match returns the first rule matching line.
func (s *Scanner) match(line string) (Rule, bool) {
	for _, r := range s.rules {
		if r.Pattern.MatchString(line) {
			return r, true
		}
	}
	return Rule{}, false
}

// SplitLines splits text into NFC-normalised lines keeping their indices.
func SplitLines(text string) []models.LogLine {
	if text == "" {
		return nil
	}
	text = norm.NFC.String(text)
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]models.LogLine, len(raw))
	for i, l := range raw {
		lines[i] = models.LogLine{Text: l, Index: i}
	}
	return lines
}

func contextBefore(lines []models.LogLine, i int) []string {
	start := i - ContextLines
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, ContextLines)
	for j := start; j < i; j++ {
		out = append(out, strings.TrimSpace(lines[j].Text))
	}
	return out
}

func contextAfter(lines []models.LogLine, i int) []string {
	end := i + ContextLines
	if end > len(lines)-1 {
		end = len(lines) - 1
	}
	out := make([]string, 0, ContextLines)
	for j := i + 1; j <= end; j++ {
		out = append(out, strings.TrimSpace(lines[j].Text))
	}
	return out
}

func buildReport(findings []models.Finding) models.AnalysisReport {
	report := models.AnalysisReport{
		Source:     models.SourceScanner,
		Findings:   findings,
		Labels:     []string{},
		QuickFixes: []string{},
	}
	if len(findings) == 0 {
		report.Summary = NoErrorsMessage
		return report
	}

	seenLabel := make(map[string]bool)
	seenCategory := make(map[models.Category]bool)
	for _, f := range findings {
		if !seenLabel[f.Label] {
			seenLabel[f.Label] = true
			report.Labels = append(report.Labels, f.Label)
		}
		seenCategory[f.Category] = true
	}
	for _, qf := range quickFixes {
		if seenCategory[qf.category] {
			report.QuickFixes = append(report.QuickFixes, qf.text)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d issue(s) in the debug logs.\n\n", len(findings))
	fmt.Fprintf(&b, "Labels: %s\n\n", strings.Join(report.Labels, ", "))
	b.WriteString("Findings:\n")
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, f.Severity, f.Label, Truncate(f.Line, MaxDisplayLength))
	}
	if len(report.QuickFixes) > 0 {
		b.WriteString("\nQuick fixes:\n")
		for _, qf := range report.QuickFixes {
			fmt.Fprintf(&b, "- %s\n", qf)
		}
	}
	report.Summary = b.String()
	return report
}

// Truncate shortens s to max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
