// Package matcher classifies extracted items against user rules.
package matcher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
	"gopkg.in/yaml.v3"
)

// Rule actions
const (
	ActionNotify = "notify"
	ActionClick  = "click"
	ActionLead   = "lead"
)

// Rule describes which items match and what to do with them
type Rule struct {
	Name     string   `toml:"name" yaml:"name" json:"name" validate:"required"`
	Keywords []string `toml:"keywords" yaml:"keywords" json:"keywords,omitempty"` // Any-of
	Exclude  []string `toml:"exclude" yaml:"exclude" json:"exclude,omitempty"`    // None-of
	Pattern  string   `toml:"pattern" yaml:"pattern" json:"pattern,omitempty"`    // RE2
	Fields   []string `toml:"fields" yaml:"fields" json:"fields,omitempty"`       // Default: title
	MinPrice float64  `toml:"min_price" yaml:"min_price" json:"min_price,omitempty" validate:"min=0"`
	MaxPrice float64  `toml:"max_price" yaml:"max_price" json:"max_price,omitempty" validate:"min=0"`
	Actions  []string `toml:"actions" yaml:"actions" json:"actions" validate:"min=1,dive,oneof=notify click lead"`

	re       *regexp.Regexp
	keywords []string
	exclude  []string
}

// HasAction reports whether the rule requests action
func (r *Rule) HasAction(action string) bool {
	for _, a := range r.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// compile normalizes keywords and compiles the pattern
func (r *Rule) compile() error {
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", r.Name, err)
		}
		r.re = re
	}
	if r.MaxPrice > 0 && r.MinPrice > r.MaxPrice {
		return fmt.Errorf("rule %s: min_price %.2f exceeds max_price %.2f", r.Name, r.MinPrice, r.MaxPrice)
	}
	if len(r.Fields) == 0 {
		r.Fields = []string{"title"}
	}
	r.keywords = normalizeAll(r.Keywords)
	r.exclude = normalizeAll(r.Exclude)
	return nil
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := dedup.NormalizeKeyPart(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ruleFile is the on-disk layout: a list of [[rules]] tables or a rules: sequence
type ruleFile struct {
	Rules []Rule `toml:"rules" yaml:"rules" validate:"dive"`
}

var validate = validator.New()

// LoadRules reads and validates a TOML or YAML rules file, chosen by extension
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return ParseRules(data, filepath.Ext(path))
}

// ParseRules decodes rules in the format named by ext (".toml", ".yaml", ".yml")
func ParseRules(data []byte, ext string) ([]Rule, error) {
	var file ruleFile
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse TOML rules: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML rules: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rules format %q", ext)
	}

	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("rules validation failed: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	for i := range file.Rules {
		r := &file.Rules[i]
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		if err := r.compile(); err != nil {
			return nil, err
		}
	}
	return file.Rules, nil
}
