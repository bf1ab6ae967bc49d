package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// stateRecord is the badgerhold row; Data holds the JSON-encoded blob
type stateRecord struct {
	Key       string `badgerhold:"key"`
	Data      []byte
	UpdatedAt time.Time
}

// BadgerStore keeps state blobs in an embedded Badger database
type BadgerStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadgerStore opens (or creates) the database at path
func NewBadgerStore(path string, logger arbor.ILogger) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Opening Badger state database")

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(path).WithLogger(nil)

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerStore{store: store, logger: logger}, nil
}

// Load decodes the blob stored under key into v
func (s *BadgerStore) Load(ctx context.Context, key string, v interface{}) error {
	var record stateRecord
	err := s.store.Get(key, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrStateNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get state %s: %w", key, err)
	}

	if err := json.Unmarshal(record.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptState, key, err)
	}
	return nil
}

// Save encodes v and upserts it under key
func (s *BadgerStore) Save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", key, err)
	}

	record := stateRecord{Key: key, Data: data, UpdatedAt: time.Now()}
	if err := s.store.Upsert(key, &record); err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

var _ interfaces.StateStore = (*BadgerStore)(nil)
