// Package rules provides the pattern rule store and the signature
// matching detection layer. Rules are WAF-style: each belongs to one
// category, carries one or more regular expressions, and maps to a
// fixed severity score when it matches.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"gatekeep/internal/schema"
)

// Category groups rules by attack class. Categories are evaluated
// independently: one match per category can contribute to an event.
type Category string

const (
	CategoryInjection        Category = "injection"
	CategoryXSS              Category = "xss"
	CategoryPathTraversal    Category = "path_traversal"
	CategoryCommandInjection Category = "command_injection"
	CategoryBot              Category = "bot"
)

// Categories lists all rule categories in evaluation order.
var Categories = []Category{
	CategoryInjection,
	CategoryXSS,
	CategoryPathTraversal,
	CategoryCommandInjection,
	CategoryBot,
}

// IsValid checks if the category is a known value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryInjection, CategoryXSS, CategoryPathTraversal,
		CategoryCommandInjection, CategoryBot:
		return true
	}
	return false
}

// Rule is a signature rule definition as loaded from YAML or builtins.
type Rule struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Category    Category        `yaml:"category"`
	Severity    schema.Severity `yaml:"severity"`
	Patterns    []string        `yaml:"patterns"`
	Enabled     bool            `yaml:"enabled"`
	Checksum    string          `yaml:"checksum,omitempty"` // sha256 over canonical fields, optional
}

// Validate validates the rule definition.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if !r.Category.IsValid() {
		return fmt.Errorf("rule %s: unknown category %q", r.ID, r.Category)
	}
	switch r.Severity {
	case schema.SeverityLow, schema.SeverityMedium, schema.SeverityHigh, schema.SeverityCritical:
	default:
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rule %s: at least one pattern is required", r.ID)
	}
	return nil
}

// ComputeChecksum returns the sha256 checksum of the rule's canonical
// fields. Stored rules whose declared checksum disagrees are rejected
// as tampered.
func (r *Rule) ComputeChecksum() string {
	h := sha256.New()
	h.Write([]byte(r.ID))
	h.Write([]byte{0})
	h.Write([]byte(r.Category))
	h.Write([]byte{0})
	h.Write([]byte(r.Severity))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(r.Patterns, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// CompiledRule is a rule with its patterns compiled for matching.
// Patterns compile case-insensitively.
type CompiledRule struct {
	Rule
	compiled []*regexp.Regexp
}

// Compile validates and compiles the rule's patterns.
func Compile(r *Rule) (*CompiledRule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	cr := &CompiledRule{Rule: *r}
	for _, p := range r.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern %q: %w", r.ID, p, err)
		}
		cr.compiled = append(cr.compiled, re)
	}
	return cr, nil
}

// Matches reports whether any of the rule's patterns match the input.
func (cr *CompiledRule) Matches(input string) bool {
	for _, re := range cr.compiled {
		if re.MatchString(input) {
			return true
		}
	}
	return false
}

// ParseRules parses rule definitions from YAML bytes.
func ParseRules(data []byte) ([]*Rule, error) {
	var parsed []*Rule
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	for i, rule := range parsed {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return parsed, nil
}
