package categorize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoMatch is returned by a rule table when no rule matches
var ErrNoMatch = errors.New("no rule matched")

// Rule maps descriptions to a category. A rule matches if any Contains
// substring is present (case-insensitive) or Pattern matches.
type Rule struct {
	Category string   `yaml:"category"`
	Contains []string `yaml:"contains"`
	Pattern  string   `yaml:"pattern"`

	re *regexp.Regexp
}

// RuleTable is an ordered list of rules; the first match wins
type RuleTable struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules loads a rule table from a YAML file
func LoadRules(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses and compiles a YAML rule table
func ParseRules(data []byte) (*RuleTable, error) {
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	for i := range table.Rules {
		r := &table.Rules[i]
		r.Category = strings.TrimSpace(r.Category)
		if r.Category == "" {
			return nil, fmt.Errorf("rule %d: category is required", i)
		}
		if len(r.Contains) == 0 && r.Pattern == "" {
			return nil, fmt.Errorf("rule %d (%s): contains or pattern is required", i, r.Category)
		}
		for j, s := range r.Contains {
			r.Contains[j] = strings.ToLower(strings.TrimSpace(s))
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): invalid pattern: %w", i, r.Category, err)
			}
			r.re = re
		}
	}

	return &table, nil
}

func (r *Rule) matches(lower, original string) bool {
	for _, s := range r.Contains {
		if s != "" && strings.Contains(lower, s) {
			return true
		}
	}
	return r.re != nil && r.re.MatchString(original)
}

// Categorize returns the category of the first matching rule
func (t *RuleTable) Categorize(_ context.Context, description string) (string, error) {
	lower := strings.ToLower(description)
	for i := range t.Rules {
		if t.Rules[i].matches(lower, description) {
			return t.Rules[i].Category, nil
		}
	}
	return "", ErrNoMatch
}

// Categories lists the distinct categories of the table in rule order
func (t *RuleTable) Categories() []string {
	seen := make(map[string]bool, len(t.Rules))
	out := make([]string, 0, len(t.Rules))
	for _, r := range t.Rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}
