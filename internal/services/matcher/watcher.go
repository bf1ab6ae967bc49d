package matcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the rules file into a Matcher when it changes on disk.
// A file that fails to parse leaves the previous rules in place.
type Watcher struct {
	path    string
	matcher *Matcher
	sink    interfaces.EventSink
	logger  arbor.ILogger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a Watcher for path. sink may be nil.
func NewWatcher(path string, matcher *Matcher, sink interfaces.EventSink, logger arbor.ILogger) *Watcher {
	return &Watcher{path: path, matcher: matcher, sink: sink, logger: logger}
}

// Reload parses the rules file and swaps it in
func (w *Watcher) Reload() error {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Rules reload failed, keeping previous rules")
		return err
	}
	w.matcher.SetRules(rules)
	w.logger.Info().Str("path", w.path).Int("rules", len(rules)).Msg("Rules loaded")

	if w.sink != nil {
		w.sink.Emit(context.Background(), models.Event{
			Type:     models.EventRulesReloaded,
			Source:   "matcher",
			Severity: models.SeverityInfo,
			Message:  "Rules reloaded",
			Fields:   map[string]string{"path": w.path, "rules": fmt.Sprintf("%d", len(rules))},
		})
	}
	return nil
}

// Watch watches the rules file's directory until ctx is cancelled. Editors
// often replace files by rename, so the directory is watched and events are
// filtered by name.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	common.SafeGo(w.logger, "rules-watcher", func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				w.stopDebounce()
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					w.debounceReload()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn().Err(err).Msg("Rules watcher error")
			}
		}
	})

	w.logger.Info().Str("path", w.path).Msg("Watching rules file")
	return nil
}

func (w *Watcher) debounceReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, func() {
		w.Reload()
	})
}

func (w *Watcher) stopDebounce() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
}
