package mcpserver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mcphub/pkg/logging"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const (
	// devDebounce is the fixed delay between the first file event of a
	// batch and the restart trigger.
	devDebounce = 500 * time.Millisecond

	// devStability postpones the trigger while events are still arriving,
	// so a restart never races a half-written build output.
	devStability = 100 * time.Millisecond
)

// devIgnoredDirs are never watched. Build and VCS trees churn constantly
// and would exhaust inotify watches on large projects.
var devIgnoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// DevWatcher monitors a stdio server's source tree and reports batches of
// changed files matching the configured globs. The owning Connection keeps
// the watcher alive across restarts so edits during a restart are not
// lost.
type DevWatcher struct {
	serverName string
	cwd        string
	globs      []string

	// onBatch runs on the watcher goroutine with the sorted list of
	// changed paths relative to cwd.
	onBatch func(paths []string)

	fsWatcher *fsnotify.Watcher

	mu        sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer
	lastEvent time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// NewDevWatcher validates the dev config and builds a watcher. cwd must be
// absolute; globs follow gitignore-style ** semantics.
func NewDevWatcher(serverName, cwd string, globs []string, onBatch func(paths []string)) (*DevWatcher, error) {
	if !filepath.IsAbs(cwd) {
		return nil, fmt.Errorf("dev cwd must be absolute, got %q", cwd)
	}
	if len(globs) == 0 {
		globs = []string{"**/*"}
	}
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid dev watch pattern %q", g)
		}
	}
	if onBatch == nil {
		return nil, fmt.Errorf("dev watcher requires an onBatch callback")
	}
	return &DevWatcher{
		serverName: serverName,
		cwd:        filepath.Clean(cwd),
		globs:      globs,
		onBatch:    onBatch,
		pending:    make(map[string]struct{}),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}, nil
}

// Start registers watches on the source tree and begins delivering
// batches. Directories created later are picked up from their create
// events.
func (w *DevWatcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create dev watcher: %w", err)
	}

	added := 0
	walkErr := filepath.WalkDir(w.cwd, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if devIgnoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := fsWatcher.Add(path); err != nil {
			logging.Warn("DevWatcher", "Cannot watch %s: %v", path, err)
			return nil
		}
		added++
		return nil
	})
	if walkErr != nil || added == 0 {
		fsWatcher.Close()
		return fmt.Errorf("failed to watch %s: no directories registered", w.cwd)
	}

	w.fsWatcher = fsWatcher
	go w.processEvents()
	logging.Debug("DevWatcher", "Watching %d directories under %s for %s (globs: %v)",
		added, w.cwd, w.serverName, w.globs)
	return nil
}

// Stop shuts the watcher down and discards any pending batch.
func (w *DevWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if w.fsWatcher != nil {
		<-w.stoppedCh
	}

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()
}

func (w *DevWatcher) processEvents() {
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
			logging.Warn("DevWatcher", "Watcher error for %s: %v", w.serverName, err)
		}
	}
}

func (w *DevWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New directories join the watch set so the tree stays covered.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !devIgnoredDirs[filepath.Base(event.Name)] {
				if err := w.fsWatcher.Add(event.Name); err != nil {
					logging.Warn("DevWatcher", "Cannot watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	rel, err := filepath.Rel(w.cwd, event.Name)
	if err != nil || rel == "." {
		return
	}
	if !w.matches(rel) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[rel] = struct{}{}
	w.lastEvent = time.Now()
	if w.timer == nil {
		w.timer = time.AfterFunc(devDebounce, w.flush)
	}
}

// matches reports whether a path relative to cwd hits any watch glob.
func (w *DevWatcher) matches(rel string) bool {
	slashed := filepath.ToSlash(rel)
	for _, g := range w.globs {
		if ok, err := doublestar.Match(g, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

// flush delivers the pending batch once the tree has been quiet for the
// stability window. Events arriving mid-flush re-arm the timer instead of
// firing a second restart.
func (w *DevWatcher) flush() {
	w.mu.Lock()

	since := time.Since(w.lastEvent)
	if since < devStability {
		w.timer = time.AfterFunc(devStability-since, w.flush)
		w.mu.Unlock()
		return
	}

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)

	select {
	case <-w.stopCh:
		return
	default:
	}

	logging.Info("DevWatcher", "%d file(s) changed for %s, restarting: %v", len(paths), w.serverName, paths)
	w.onBatch(paths)
}
