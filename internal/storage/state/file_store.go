// Package state persists small scheduler blobs (cycle state, daily run state)
// either as one JSON file per key or in an embedded Badger database.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
)

// ErrCorruptState is returned when a persisted blob cannot be decoded
var ErrCorruptState = errors.New("corrupt persisted state")

var validKey = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// FileStore keeps each key in <dir>/<key>.json, written atomically
type FileStore struct {
	dir    string
	logger arbor.ILogger
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, logger arbor.ILogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid state key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Load decodes the blob stored under key into v
func (s *FileStore) Load(ctx context.Context, key string, v interface{}) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return interfaces.ErrStateNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read state %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptState, key, err)
	}
	return nil
}

// Save encodes v and writes it atomically under key
func (s *FileStore) Save(ctx context.Context, key string, v interface{}) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	return common.WriteJSONAtomic(path, v)
}

// Close is a no-op for the file backend
func (s *FileStore) Close() error {
	return nil
}

var _ interfaces.StateStore = (*FileStore)(nil)
