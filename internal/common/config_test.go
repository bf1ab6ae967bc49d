package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFromFiles_Defaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8686, config.Server.Port)
	assert.Equal(t, "file", config.Storage.StateBackend)
	assert.Equal(t, "./data/archive", config.Storage.ArchiveDir)
	assert.Equal(t, 3, config.Health.OfflineThreshold)
	assert.Equal(t, 5, config.RateLimit.MaxAttempts)
}

func TestLoadFromFiles_LaterFileOverrides(t *testing.T) {
	base := writeConfig(t, "base.toml", `
[server]
port = 9000

[daily]
timezone = "Europe/Amsterdam"
slots = ["07:30"]
`)
	override := writeConfig(t, "override.toml", `
[server]
port = 9100
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "Europe/Amsterdam", config.Daily.Timezone)
	assert.Equal(t, []string{"07:30"}, config.Daily.Slots)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "c.toml", "[server]\nport = 9000\n")
	t.Setenv("PORTALWATCH_SERVER_PORT", "9200")
	t.Setenv("PORTALWATCH_DIGEST_SLOTS", "06:00, 18:00")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, config.Server.Port)
	assert.Equal(t, []string{"06:00", "18:00"}, config.Daily.Slots)
}

func TestLoadFromFiles_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad timezone", "[daily]\ntimezone = \"Mars/Olympus\"\n"},
		{"bad slot", "[daily]\nslots = [\"25:99\"]\n"},
		{"bad backend", "[storage]\nstate_backend = \"redis\"\n"},
		{"bad duration", "[cycle]\ninterval = \"soon\"\n"},
		{"zero attempts", "[ratelimit]\nmax_attempts = 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFiles(writeConfig(t, "c.toml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 7000, "0.0.0.0")
	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 7000, config.Server.Port)
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 2*time.Minute, ParseDurationOr("2m", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("nope", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("-5s", time.Second))
}
