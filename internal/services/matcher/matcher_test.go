package matcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/models"
)

const tomlRules = `
[[rules]]
name = "gpus"
keywords = ["RTX 4090", "rtx 4080"]
exclude = ["broken"]
max_price = 2000
actions = ["notify", "click"]

[[rules]]
name = "bulk-buyers"
pattern = '(?i)\bbulk\b'
fields = ["title", "notes"]
actions = ["lead"]
`

const yamlRules = `
rules:
  - name: cheap
    max_price: 10
    actions: [notify]
`

func TestParseRules_TOML(t *testing.T) {
	rules, err := ParseRules([]byte(tomlRules), ".toml")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "gpus", rules[0].Name)
	assert.True(t, rules[0].HasAction(ActionClick))
	assert.False(t, rules[0].HasAction(ActionLead))
	assert.Equal(t, []string{"title"}, rules[0].Fields)
	assert.Equal(t, []string{"title", "notes"}, rules[1].Fields)
}

func TestParseRules_YAML(t *testing.T) {
	rules, err := ParseRules([]byte(yamlRules), ".yml")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 10.0, rules[0].MaxPrice)
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{"missing name", "[[rules]]\nactions = [\"notify\"]\n", ".toml"},
		{"no actions", "[[rules]]\nname = \"a\"\n", ".toml"},
		{"unknown action", "[[rules]]\nname = \"a\"\nactions = [\"delete\"]\n", ".toml"},
		{"bad pattern", "[[rules]]\nname = \"a\"\npattern = \"(\"\nactions = [\"notify\"]\n", ".toml"},
		{"price bounds", "[[rules]]\nname = \"a\"\nmin_price = 10\nmax_price = 5\nactions = [\"notify\"]\n", ".toml"},
		{"duplicate names", "[[rules]]\nname = \"a\"\nactions = [\"notify\"]\n[[rules]]\nname = \"a\"\nactions = [\"lead\"]\n", ".toml"},
		{"bad toml", "[[rules]\n", ".toml"},
		{"unsupported", "{}", ".json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.data), tt.ext)
			assert.Error(t, err)
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	rules, err := ParseRules([]byte(tomlRules), ".toml")
	require.NoError(t, err)
	m := New(rules)

	tests := []struct {
		name  string
		item  models.Item
		rules []string
	}{
		{"keyword normalized", models.Item{Title: "  NVIDIA   rtx 4090 Founders", Price: 1500}, []string{"gpus"}},
		{"excluded", models.Item{Title: "RTX 4090 broken fan", Price: 100}, nil},
		{"over price", models.Item{Title: "RTX 4080", Price: 2500}, nil},
		{"pattern in extra field", models.Item{Title: "Office chairs", Fields: map[string]string{"notes": "Bulk order of 40"}}, []string{"bulk-buyers"}},
		{"pattern word boundary", models.Item{Title: "bulky box"}, nil},
		{"both", models.Item{Title: "RTX 4090 bulk lot", Price: 1900}, []string{"gpus", "bulk-buyers"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for _, r := range m.Match(tt.item) {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.rules, names)
		})
	}
}

func TestMatcher_PriceOnlyRule(t *testing.T) {
	m, err := NewFromRules(Rule{Name: "cheap", MaxPrice: 10, Actions: []string{ActionNotify}})
	require.NoError(t, err)

	assert.Len(t, m.Match(models.Item{Title: "anything", Price: 5}), 1)
	assert.Empty(t, m.Match(models.Item{Title: "anything", Price: 50}))
}

func TestWatcher_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlRules), 0644))

	m := New(nil)
	w := NewWatcher(path, m, nil, arbor.NewLogger())
	require.NoError(t, w.Reload())
	assert.Len(t, m.Rules(), 2)

	require.NoError(t, os.WriteFile(path, []byte("[[rules]\nbroken"), 0644))
	assert.Error(t, w.Reload())
	assert.Len(t, m.Rules(), 2)
}

func TestWatcher_WatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlRules), 0644))

	m := New(nil)
	w := NewWatcher(path, m, nil, arbor.NewLogger())
	require.NoError(t, w.Reload())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Watch(ctx))

	single := "[[rules]]\nname = \"only\"\nkeywords = [\"x\"]\nactions = [\"notify\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(single), 0644))

	assert.Eventually(t, func() bool {
		rules := m.Rules()
		return len(rules) == 1 && rules[0].Name == "only"
	}, 5*time.Second, 20*time.Millisecond)
}
