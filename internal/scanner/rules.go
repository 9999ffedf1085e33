// Package scanner finds error signatures in Apex debug log text.
package scanner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apexlog/backend/internal/models"
)

// Rule maps a line pattern to a label and severity. Rules are evaluated in
// slice order and the first matching rule claims the line.
type Rule struct {
	Label    string
	Pattern  *regexp.Regexp
	Severity models.Severity
	Category models.Category
}

// NewRule compiles pattern into a Rule. An empty category is derived from
// the label.
func NewRule(label, pattern string, severity models.Severity, category models.Category) (Rule, error) {
	if label == "" {
		return Rule{}, fmt.Errorf("rule has no label")
	}
	if severity != models.SeverityError && severity != models.SeverityWarning {
		return Rule{}, fmt.Errorf("rule %s: invalid severity %q", label, severity)
	}
	if strings.TrimSpace(pattern) == "" {
		return Rule{}, fmt.Errorf("rule %s: empty pattern", label)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: compiling pattern: %w", label, err)
	}
	switch category {
	case "":
		category = CategoryForLabel(label)
	case models.CategoryValidation, models.CategoryException, models.CategoryLimit, models.CategoryOther:
	default:
		return Rule{}, fmt.Errorf("rule %s: invalid category %q", label, category)
	}
	return Rule{Label: label, Pattern: re, Severity: severity, Category: category}, nil
}

func mustRule(label, pattern string, severity models.Severity) Rule {
	r, err := NewRule(label, pattern, severity, "")
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRules returns the built-in rule set in priority order.
// Specific debug-log event markers come before the generic exception
// signatures so a line is never counted twice.
func DefaultRules() []Rule {
	return []Rule{
		mustRule("EXCEPTION_THROWN", `\|EXCEPTION_THROWN\|`, models.SeverityError),
		mustRule("FATAL_ERROR", `\|FATAL_ERROR\|`, models.SeverityError),
		mustRule("UNHANDLED_EXCEPTION", `(?i)unhandled exception|\|UNHANDLED_EXCEPTION\|`, models.SeverityError),
		mustRule("VALIDATION_FAIL", `\|VALIDATION_FAIL\|`, models.SeverityError),
		mustRule("VALIDATION_FORMULA", `\|VALIDATION_FORMULA\|`, models.SeverityWarning),
		mustRule("LIMIT_USAGE", `\|LIMIT_USAGE(_FOR_NS)?\|`, models.SeverityWarning),
		mustRule("LIMIT_EXCEPTION", `System\.LimitException|Too many [A-Za-z ]+:`, models.SeverityError),
		mustRule("SYSTEM_EXCEPTION", `System\.[A-Za-z]+Exception`, models.SeverityError),
		mustRule("NULL_POINTER", `NullPointerException|de-reference a null object`, models.SeverityError),
	}
}

// CategoryForLabel derives the quick-fix category from a label name.
func CategoryForLabel(label string) models.Category {
	switch {
	case strings.HasPrefix(label, "VALIDATION"):
		return models.CategoryValidation
	case strings.HasPrefix(label, "LIMIT"):
		return models.CategoryLimit
	case label == "EXCEPTION_THROWN", label == "FATAL_ERROR", label == "UNHANDLED_EXCEPTION",
		label == "SYSTEM_EXCEPTION", label == "NULL_POINTER":
		return models.CategoryException
	default:
		return models.CategoryOther
	}
}
