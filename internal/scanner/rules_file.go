package scanner

import (
	"fmt"
	"io"
	"os"

	"github.com/apexlog/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML layout of a rule configuration file. Order in the
// file is priority order.
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule as written in YAML.
type RuleSpec struct {
	Label    string `yaml:"label" json:"label"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Severity string `yaml:"severity" json:"severity"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// LoadRules reads a YAML rules file.
func LoadRules(filePath string) ([]Rule, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseRules(file)
}

// ParseRules parses rules from an io.Reader.
func ParseRules(r io.Reader) ([]Rule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("parsing rules: no rules defined")
	}

	rules := make([]Rule, 0, len(rf.Rules))
	for i, spec := range rf.Rules {
		rule, err := NewRule(spec.Label, spec.Pattern, models.Severity(spec.Severity), models.Category(spec.Category))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Specs converts compiled rules back to their file form.
func Specs(rules []Rule) []RuleSpec {
	specs := make([]RuleSpec, 0, len(rules))
	for _, r := range rules {
		specs = append(specs, RuleSpec{
			Label:    r.Label,
			Pattern:  r.Pattern.String(),
			Severity: string(r.Severity),
			Category: string(r.Category),
		})
	}
	return specs
}

// MarshalRules renders rules back to YAML, e.g. to seed a rules file.
func MarshalRules(rules []Rule) ([]byte, error) {
	return yaml.Marshal(&RuleFile{Rules: Specs(rules)})
}
