package state

import (
	"fmt"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
)

// New opens the state backend selected by config
func New(config *common.StorageConfig, logger arbor.ILogger) (interfaces.StateStore, error) {
	switch config.StateBackend {
	case "", "file":
		return NewFileStore(filepath.Join(config.DataDir, "state"), logger)
	case "badger":
		return NewBadgerStore(config.BadgerPath, logger)
	default:
		return nil, fmt.Errorf("unknown state backend: %s", config.StateBackend)
	}
}
