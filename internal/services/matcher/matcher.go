package matcher

import (
	"strings"
	"sync"

	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

// Matcher holds the active rule set. Rules can be swapped while matching runs.
type Matcher struct {
	mu    sync.RWMutex
	rules []Rule
}

// New creates a Matcher with rules that have already passed ParseRules
func New(rules []Rule) *Matcher {
	return &Matcher{rules: rules}
}

// NewFromRules compiles and validates rules built in code
func NewFromRules(rules ...Rule) (*Matcher, error) {
	for i := range rules {
		if err := rules[i].compile(); err != nil {
			return nil, err
		}
	}
	return New(rules), nil
}

// SetRules replaces the active rules
func (m *Matcher) SetRules(rules []Rule) {
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
}

// Rules returns the active rules
func (m *Matcher) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Rule(nil), m.rules...)
}

// Match returns every rule the item satisfies, in rule order
func (m *Matcher) Match(item models.Item) []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Rule
	for i := range m.rules {
		if matches(&m.rules[i], item) {
			matched = append(matched, m.rules[i])
		}
	}
	return matched
}

func matches(r *Rule, item models.Item) bool {
	if r.MinPrice > 0 && item.Price < r.MinPrice {
		return false
	}
	if r.MaxPrice > 0 && item.Price > r.MaxPrice {
		return false
	}

	raw := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		raw = append(raw, item.Field(f))
	}
	text := dedup.NormalizeKeyPart(strings.Join(raw, " "))

	for _, ex := range r.exclude {
		if strings.Contains(text, ex) {
			return false
		}
	}

	if len(r.keywords) > 0 {
		found := false
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.re != nil && !r.re.MatchString(strings.Join(raw, " ")) {
		return false
	}

	// A rule with no keyword and no pattern matches on price alone
	return true
}
