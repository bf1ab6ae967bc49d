package interfaces

import (
	"context"
	"errors"
)

// ErrStateNotFound is returned by StateStore.Load when nothing was saved under key.
var ErrStateNotFound = errors.New("state not found")

// StateStore persists small structured blobs (scheduler state, daily run state)
// so that restarts continue where the previous process stopped.
type StateStore interface {
	Load(ctx context.Context, key string, v interface{}) error
	Save(ctx context.Context, key string, v interface{}) error
	Close() error
}
