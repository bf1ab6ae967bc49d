package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestWriteCrashReport(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

	path, err := WriteCrashReport(dir, "boom", "main.main()\n", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "crash-20260504T030201Z.log"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "panic: boom")
	assert.Contains(t, string(data), "main.main()")
	assert.Contains(t, string(data), "all goroutines:")
}

func TestSafeGo_CountsRecoveredPanics(t *testing.T) {
	before := PanicCount()
	SafeGo(arbor.NewLogger(), "test-panic", func() { panic("boom") })

	assert.Eventually(t, func() bool { return PanicCount() == before+1 }, time.Second, 5*time.Millisecond)
}

func TestVersionInfo_String(t *testing.T) {
	assert.Equal(t, "1.2.0", VersionInfo{Version: "1.2.0", Build: "unknown", GitCommit: "unknown"}.String())
	assert.Equal(t, "1.2.0 (build 42, commit abc123)", VersionInfo{Version: "1.2.0", Build: "42", GitCommit: "abc123"}.String())
}
