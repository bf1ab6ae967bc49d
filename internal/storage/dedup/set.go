package dedup

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Set is the collection of named stores owned by the application
type Set map[string]*Store

// Get returns the named store
func (s Set) Get(name string) (*Store, error) {
	store, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("unknown store: %s", name)
	}
	return store, nil
}

// Names returns the store names in sorted order
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlushAll flushes every store concurrently and returns the first error
func (s Set) FlushAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, store := range s {
		store := store
		g.Go(func() error {
			if err := store.Flush(); err != nil {
				return fmt.Errorf("flush %s: %w", store.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// RotateAll rotates every store above maxLiveRows. Failures are collected per store.
func (s Set) RotateAll(maxLiveRows int, archiveDir string) (map[string]int, error) {
	rotated := make(map[string]int)
	var firstErr error
	for _, name := range s.Names() {
		n, err := s[name].Rotate(maxLiveRows, archiveDir)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if n > 0 {
			rotated[name] = n
		}
	}
	return rotated, firstErr
}
