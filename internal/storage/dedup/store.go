// Package dedup implements a keyed, serial-numbered append log that is
// persisted atomically to a single JSON file. One Store owns one homogeneous
// collection; the application runs one Store per record kind.
package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/models"
)

// Action describes what Upsert did with the incoming record
type Action string

const (
	ActionNew       Action = "new"
	ActionMerge     Action = "merge"
	ActionDuplicate Action = "duplicate"
)

// ErrEmptyKey is returned when every key-contributing field is blank
var ErrEmptyKey = errors.New("dedup key is empty")

// UpsertResult is returned by Upsert
type UpsertResult struct {
	Action Action       `json:"action"`
	Entry  models.Entry `json:"entry"`
}

// KeyFunc derives the dedup key from the record fields
type KeyFunc func(fields map[string]string) string

// Options configures a Store
type Options struct {
	Name             string
	Path             string        // Backing JSON file
	KeyFields        []string      // Fields joined into the key when KeyFunc is nil
	KeyFunc          KeyFunc       // Optional custom key derivation
	MergeBlankFields bool          // Fill blank fields of an existing entry from a duplicate
	CoalesceDelay    time.Duration // Pending-write window; 0 writes on every mutation
	Clock            common.Clock
}

// document is the on-disk layout. Entries are stored oldest first.
type document struct {
	Name       string         `json:"name"`
	NextSerial int64          `json:"next_serial"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Entries    []models.Entry `json:"entries"`
}

// Store is a deduplicated append log
type Store struct {
	opts   Options
	logger arbor.ILogger

	mu         sync.Mutex
	entries    []models.Entry // oldest first
	index      map[string]int // key -> position in entries
	nextSerial int64
	dirty      bool
	timer      *time.Timer
	lastErr    error

	// writeMu serialises disk writes; the snapshot is taken while holding it so
	// files are written in mutation order
	writeMu sync.Mutex
}

// Open loads the store from opts.Path. A missing or corrupt file yields an
// empty store; neither is fatal.
func Open(opts Options, logger arbor.ILogger) (*Store, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("dedup store name is required")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("dedup store %s: path is required", opts.Name)
	}
	if opts.KeyFunc == nil && len(opts.KeyFields) == 0 {
		return nil, fmt.Errorf("dedup store %s: key fields or key func required", opts.Name)
	}
	if opts.Clock == nil {
		opts.Clock = common.SystemClock{}
	}

	s := &Store{
		opts:       opts,
		logger:     logger,
		index:      make(map[string]int),
		nextSerial: 1,
	}
	s.load()
	return s, nil
}

// Name returns the store name
func (s *Store) Name() string {
	return s.opts.Name
}

func (s *Store) load() {
	data, err := os.ReadFile(s.opts.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("store", s.opts.Name).Str("path", s.opts.Path).Msg("Failed to read dedup store - starting empty")
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Str("store", s.opts.Name).Str("path", s.opts.Path).Msg("Corrupt dedup store file - starting empty")
		return
	}

	maxSerial := int64(0)
	for _, e := range doc.Entries {
		if e.Key == "" {
			continue
		}
		if _, exists := s.index[e.Key]; exists {
			continue
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string)
		}
		s.index[e.Key] = len(s.entries)
		s.entries = append(s.entries, e)
		if e.Serial > maxSerial {
			maxSerial = e.Serial
		}
	}

	s.nextSerial = doc.NextSerial
	if s.nextSerial <= maxSerial {
		s.nextSerial = maxSerial + 1
	}
	if s.nextSerial < 1 {
		s.nextSerial = 1
	}

	s.logger.Debug().Str("store", s.opts.Name).Int("entries", len(s.entries)).Int64("next_serial", s.nextSerial).Msg("Dedup store loaded")
}

// NormalizeKeyPart case-folds and collapses whitespace
func NormalizeKeyPart(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// Key derives the dedup key for fields
func (s *Store) Key(fields map[string]string) string {
	if s.opts.KeyFunc != nil {
		return s.opts.KeyFunc(fields)
	}
	return KeyFromFields(fields, s.opts.KeyFields...)
}

// KeyFromFields joins the normalized values of names. Returns "" when all are blank.
func KeyFromFields(fields map[string]string, names ...string) string {
	parts := make([]string, len(names))
	blank := true
	for i, name := range names {
		parts[i] = NormalizeKeyPart(fields[name])
		if parts[i] != "" {
			blank = false
		}
	}
	if blank {
		return ""
	}
	return strings.Join(parts, "|")
}

// Upsert inserts a new record or reports/merges a duplicate
func (s *Store) Upsert(fields map[string]string) (UpsertResult, error) {
	key := s.Key(fields)
	if key == "" {
		return UpsertResult{}, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, exists := s.index[key]; exists {
		existing := &s.entries[pos]
		if s.opts.MergeBlankFields && mergeBlank(existing.Fields, fields) {
			s.markDirtyLocked()
			return UpsertResult{Action: ActionMerge, Entry: existing.Clone()}, nil
		}
		return UpsertResult{Action: ActionDuplicate, Entry: existing.Clone()}, nil
	}

	entry := models.Entry{
		Serial:    s.nextSerial,
		Timestamp: s.opts.Clock.Now(),
		Key:       key,
		Fields:    copyFields(fields),
	}
	s.nextSerial++
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, entry)
	s.markDirtyLocked()

	return UpsertResult{Action: ActionNew, Entry: entry.Clone()}, nil
}

// mergeBlank fills blank target fields from source; reports whether anything changed
func mergeBlank(target, source map[string]string) bool {
	changed := false
	for k, v := range source {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if strings.TrimSpace(target[k]) == "" {
			target[k] = v
			changed = true
		}
	}
	return changed
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Lookup returns the live entry with the same key as fields
func (s *Store) Lookup(fields map[string]string) (models.Entry, bool) {
	key := s.Key(fields)
	if key == "" {
		return models.Entry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[key]
	if !ok {
		return models.Entry{}, false
	}
	return s.entries[pos].Clone(), true
}

// List returns live entries, newest first
func (s *Store) List() []models.Entry {
	return s.ListSince(time.Time{})
}

// ListSince returns live entries created after since, newest first
func (s *Store) ListSince(since time.Time) []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if !since.IsZero() && !s.entries[i].Timestamp.After(since) {
			continue
		}
		out = append(out, s.entries[i].Clone())
	}
	return out
}

// Len returns the live entry count
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset clears the live set, the key index and the serial counter
func (s *Store) Reset() {
	s.mu.Lock()
	count := len(s.entries)
	s.entries = nil
	s.index = make(map[string]int)
	s.nextSerial = 1
	s.markDirtyLocked()
	s.mu.Unlock()

	s.logger.Info().Str("store", s.opts.Name).Int("cleared", count).Msg("Dedup store reset")
}

// Rotate moves the oldest entries beyond maxLiveRows into an archive file under
// archiveDir, named by rotation time and serial range, and drops their keys, so they may be inserted again.
// Returns the number of archived entries.
func (s *Store) Rotate(maxLiveRows int, archiveDir string) (int, error) {
	if maxLiveRows < 0 {
		return 0, fmt.Errorf("max live rows must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.entries) - maxLiveRows
	if excess <= 0 {
		return 0, nil
	}

	archived := make([]models.Entry, excess)
	copy(archived, s.entries[:excess])

	now := s.opts.Clock.Now()
	archivePath := s.archivePath(archiveDir, now, archived)
	doc := document{Name: s.opts.Name, UpdatedAt: now, Entries: archived}
	if err := common.WriteJSONAtomic(archivePath, doc); err != nil {
		// Live set untouched: nothing is lost when the archive cannot be written
		return 0, fmt.Errorf("failed to write archive for %s: %w", s.opts.Name, err)
	}

	remaining := make([]models.Entry, len(s.entries)-excess)
	copy(remaining, s.entries[excess:])
	s.entries = remaining
	s.rebuildIndexLocked()
	s.markDirtyLocked()

	s.logger.Info().
		Str("store", s.opts.Name).
		Int("archived", excess).
		Int("live", len(s.entries)).
		Str("archive", archivePath).
		Msg("Dedup store rotated")

	return excess, nil
}

// archivePath never returns the name of an existing archive
func (s *Store) archivePath(archiveDir string, now time.Time, archived []models.Entry) string {
	base := fmt.Sprintf("%s-%s-s%d-%d",
		s.opts.Name,
		now.UTC().Format("20060102T150405.000000000"),
		archived[0].Serial,
		archived[len(archived)-1].Serial,
	)
	path := filepath.Join(archiveDir, base+".json")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(archiveDir, base+"-"+uuid.NewString()[:8]+".json")
	}
	return path
}

func (s *Store) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		s.index[e.Key] = i
	}
}

// markDirtyLocked records a pending write and arms the coalescing timer
func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.opts.CoalesceDelay, s.writePending)
	}
}

func (s *Store) writePending() {
	defer common.Recover(s.logger, "dedup-write-"+s.opts.Name)
	s.persist()
}

// persist writes the current snapshot if anything changed since the last write
func (s *Store) persist() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.timer = nil
	if !s.dirty {
		err := s.lastErr
		s.mu.Unlock()
		return err
	}
	doc := document{
		Name:       s.opts.Name,
		NextSerial: s.nextSerial,
		UpdatedAt:  s.opts.Clock.Now(),
		Entries:    make([]models.Entry, len(s.entries)),
	}
	copy(doc.Entries, s.entries)
	s.dirty = false
	s.mu.Unlock()

	err := common.WriteJSONAtomic(s.opts.Path, doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err != nil {
		// In-memory state stays authoritative; the next mutation retries
		s.dirty = true
		s.logger.Warn().Err(err).Str("store", s.opts.Name).Str("path", s.opts.Path).Msg("Failed to persist dedup store")
	}
	return err
}

// Flush blocks until any pending write has completed. Call before shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.persist()
}

// Stats summarises a store for status reporting
type Stats struct {
	Name       string    `json:"name"`
	Live       int       `json:"live"`
	NextSerial int64     `json:"next_serial"`
	Newest     time.Time `json:"newest,omitempty"`
	Pending    bool      `json:"pending_write"`
}

// Stats returns a summary of the store
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Name: s.opts.Name, Live: len(s.entries), NextSerial: s.nextSerial, Pending: s.dirty}
	if n := len(s.entries); n > 0 {
		st.Newest = s.entries[n-1].Timestamp
	}
	return st
}

// Keys returns the live keys, oldest first
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return s.index[keys[i]] < s.index[keys[j]] })
	return keys
}
