package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Set with -ldflags "-X github.com/ternarybob/portalwatch/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// VersionInfo is the build identity reported by the banner and the API
type VersionInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
}

// CurrentVersion returns the build identity of this binary
func CurrentVersion() VersionInfo {
	return VersionInfo{Version: Version, Build: Build, GitCommit: GitCommit}
}

func (v VersionInfo) String() string {
	if v.Build == "unknown" && v.GitCommit == "unknown" {
		return v.Version
	}
	return fmt.Sprintf("%s (build %s, commit %s)", v.Version, v.Build, v.GitCommit)
}

// LoadVersionFromFile overrides Version with the .version file shipped beside
// the executable, if there is one
func LoadVersionFromFile() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(exe), ".version"))
	if err != nil {
		return
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
}
