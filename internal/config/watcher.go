package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mcphub/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounceInterval coalesces the burst of filesystem events an
	// editor save produces into a single reload.
	DefaultDebounceInterval = 300 * time.Millisecond

	// DefaultPollInterval is used when inotify watches cannot be
	// established and the watcher falls back to polling mod times.
	DefaultPollInterval = 2 * time.Second
)

// WatcherOptions configures a config file watcher.
type WatcherOptions struct {
	// Paths is the ordered config file list. The watcher monitors the
	// parent directories so it survives atomic replace-by-rename saves.
	Paths []string

	// OnChange runs after the debounce interval whenever a watched file
	// is touched. It is invoked from the watcher goroutine.
	OnChange func()

	DebounceInterval time.Duration
	PollInterval     time.Duration
}

// Watcher monitors the config file list and invokes a callback when any
// of the files change. Editors that save via temp-file-plus-rename swap
// the inode out from under a direct file watch, so the watcher registers
// the parent directories instead and filters events down to the
// configured paths.
type Watcher struct {
	opts WatcherOptions

	// watched maps cleaned absolute paths to true for event filtering.
	watched map[string]bool

	fsWatcher *fsnotify.Watcher

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	started   bool

	// lastModTimes backs the polling fallback.
	lastModTimes map[string]time.Time
}

// NewWatcher creates a watcher for the given options. Start must be
// called before any events are delivered.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("config watcher requires at least one path")
	}
	if opts.OnChange == nil {
		return nil, fmt.Errorf("config watcher requires an OnChange callback")
	}
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = DefaultDebounceInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	watched := make(map[string]bool, len(opts.Paths))
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %s: %w", p, err)
		}
		watched[filepath.Clean(abs)] = true
	}

	return &Watcher{
		opts:         opts,
		watched:      watched,
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
		lastModTimes: make(map[string]time.Time),
	}, nil
}

// Start begins watching. When inotify is unavailable the watcher degrades
// to polling file mod times instead of failing.
func (w *Watcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Config", "Filesystem notifications unavailable (%v), falling back to polling every %s", err, w.opts.PollInterval)
		w.seedModTimes()
		w.started = true
		go w.pollForChanges()
		return nil
	}

	dirs := make(map[string]bool)
	for path := range w.watched {
		dirs[filepath.Dir(path)] = true
	}
	added := 0
	for dir := range dirs {
		if err := fsWatcher.Add(dir); err != nil {
			logging.Warn("Config", "Cannot watch directory %s: %v", dir, err)
			continue
		}
		added++
	}
	if added == 0 {
		fsWatcher.Close()
		logging.Warn("Config", "No config directories could be watched, falling back to polling every %s", w.opts.PollInterval)
		w.seedModTimes()
		w.started = true
		go w.pollForChanges()
		return nil
	}

	w.fsWatcher = fsWatcher
	w.started = true
	go w.processEvents()
	logging.Debug("Config", "Watching %d directories for changes to %d config files", added, len(w.watched))
	return nil
}

// Stop shuts the watcher down and waits for its goroutine to exit. Any
// pending debounced callback is cancelled. Safe to call more than once,
// or on a watcher that never started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if w.started {
		<-w.stoppedCh
	}

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()
}

func (w *Watcher) processEvents() {
	defer close(w.stoppedCh)
	defer w.fsWatcher.Close()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Config", "Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.isRelevantFile(event.Name) {
		return
	}
	// Removal matters too: a deleted file drops its servers from the
	// merged view on the next load.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	logging.Debug("Config", "Config file event: %s %s", event.Op, event.Name)
	w.triggerDebounced()
}

func (w *Watcher) isRelevantFile(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return w.watched[filepath.Clean(abs)]
}

// triggerDebounced resets the debounce timer so rapid successive events
// collapse into one callback after the quiet period.
func (w *Watcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.opts.DebounceInterval, w.opts.OnChange)
}

func (w *Watcher) seedModTimes() {
	for path := range w.watched {
		if info, err := os.Stat(path); err == nil {
			w.lastModTimes[path] = info.ModTime()
		}
	}
}

func (w *Watcher) pollForChanges() {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkModTimes() {
				w.triggerDebounced()
			}
		}
	}
}

// checkModTimes reports whether any watched file changed since the last
// poll, including files appearing or disappearing.
func (w *Watcher) checkModTimes() bool {
	changed := false
	for path := range w.watched {
		info, err := os.Stat(path)
		last, seen := w.lastModTimes[path]
		switch {
		case err != nil && seen:
			delete(w.lastModTimes, path)
			changed = true
		case err == nil && !seen:
			w.lastModTimes[path] = info.ModTime()
			changed = true
		case err == nil && info.ModTime() != last:
			w.lastModTimes[path] = info.ModTime()
			changed = true
		}
	}
	return changed
}
