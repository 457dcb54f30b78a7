// Package workspace maintains the cross-process registry of hub instances
// on this host. Every running hub writes an entry keyed by its listening
// port into a shared JSON file so that IDE clients and the workspaces CLI
// can discover which hub serves which project directory.
//
// The file is the only resource shared between hub processes. Writers
// serialize through an advisory lock on a sibling .lock file; readers go
// lock-free and tolerate a torn read by retrying once. Every write prunes
// entries whose process is no longer alive, so a crashed hub disappears
// from the registry on the next write by any survivor.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"mcphub/pkg/logging"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"
)

// Workspace states. A hub counting down to idle auto-shutdown advertises
// shutting_down so clients can re-attach and cancel it.
const (
	StateActive       = "active"
	StateShuttingDown = "shutting_down"
)

const (
	// lockRetryInitialInterval seeds the exponential backoff between lock
	// attempts.
	lockRetryInitialInterval = 100 * time.Millisecond

	// maxLockAttempts bounds one acquisition round before the stale-lock
	// check runs.
	maxLockAttempts = 6

	// staleLockThreshold is how old the lock file's mtime must be before
	// a contender may unlink it. Honest holders touch the file on acquire
	// and hold it for well under a second.
	staleLockThreshold = 30 * time.Second

	// maxStaleUnlinkDepth bounds how many times acquisition recurses
	// after unlinking a stale lock.
	maxStaleUnlinkDepth = 2
)

// ErrNotRegistered is returned when mutating an entry that is not in the
// cache, for example after another process pruned it.
var ErrNotRegistered = errors.New("workspace not registered")

// Entry describes one running hub instance.
type Entry struct {
	Cwd               string     `json:"cwd"`
	ConfigFiles       []string   `json:"config_files"`
	PID               int        `json:"pid"`
	Port              int        `json:"port"`
	StartTime         time.Time  `json:"startTime"`
	State             string     `json:"state"`
	ActiveConnections int        `json:"activeConnections"`
	ShutdownStartedAt *time.Time `json:"shutdownStartedAt,omitempty"`
	ShutdownDelay     int64      `json:"shutdownDelay,omitempty"`
}

// Clone returns a copy with its own slices.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.ConfigFiles = append([]string(nil), e.ConfigFiles...)
	if e.ShutdownStartedAt != nil {
		at := *e.ShutdownStartedAt
		out.ShutdownStartedAt = &at
	}
	return &out
}

// Cache is a handle on the shared workspace file. It carries no in-memory
// state beyond the paths; every operation goes to disk so concurrent hubs
// always see each other's latest writes.
type Cache struct {
	path     string
	lockPath string

	lockRetryInterval time.Duration
	lockMaxTries      uint
	staleAfter        time.Duration
}

// NewCache returns a cache backed by the given JSON file. The advisory
// lock lives in a .lock sibling.
func NewCache(path string) *Cache {
	return &Cache{
		path:              path,
		lockPath:          path + ".lock",
		lockRetryInterval: lockRetryInitialInterval,
		lockMaxTries:      maxLockAttempts,
		staleAfter:        staleLockThreshold,
	}
}

// Path returns the backing file path, for watch wiring.
func (c *Cache) Path() string {
	return c.path
}

// Register inserts or replaces the entry for its port.
func (c *Cache) Register(ctx context.Context, entry *Entry) error {
	return c.mutate(ctx, func(entries map[string]*Entry) error {
		entries[portKey(entry.Port)] = entry.Clone()
		return nil
	})
}

// Update applies fn to the entry for port under the lock.
func (c *Cache) Update(ctx context.Context, port int, fn func(*Entry)) error {
	return c.mutate(ctx, func(entries map[string]*Entry) error {
		entry, ok := entries[portKey(port)]
		if !ok {
			return fmt.Errorf("port %d: %w", port, ErrNotRegistered)
		}
		fn(entry)
		return nil
	})
}

// Remove deletes the entry for port. Removing an absent entry is not an
// error; a concurrent prune may have won.
func (c *Cache) Remove(ctx context.Context, port int) error {
	return c.mutate(ctx, func(entries map[string]*Entry) error {
		delete(entries, portKey(port))
		return nil
	})
}

// SetActiveConnections records the current SSE subscriber count.
func (c *Cache) SetActiveConnections(ctx context.Context, port, count int) error {
	return c.Update(ctx, port, func(e *Entry) {
		e.ActiveConnections = count
	})
}

// MarkShuttingDown flags the entry as counting down to auto-shutdown.
func (c *Cache) MarkShuttingDown(ctx context.Context, port int, delay time.Duration) error {
	return c.Update(ctx, port, func(e *Entry) {
		now := time.Now()
		e.State = StateShuttingDown
		e.ShutdownStartedAt = &now
		e.ShutdownDelay = delay.Milliseconds()
	})
}

// MarkActive cancels a shutdown countdown.
func (c *Cache) MarkActive(ctx context.Context, port int) error {
	return c.Update(ctx, port, func(e *Entry) {
		e.State = StateActive
		e.ShutdownStartedAt = nil
		e.ShutdownDelay = 0
	})
}

// List returns all entries keyed by port string. The read takes no lock;
// a torn read is retried once before failing.
func (c *Cache) List(ctx context.Context) (map[string]*Entry, error) {
	entries, err := c.readEntries()
	if err == nil {
		return entries, nil
	}

	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.readEntries()
}

// mutate runs the locked read-prune-apply-write cycle.
func (c *Cache) mutate(ctx context.Context, fn func(map[string]*Entry) error) error {
	lock, err := c.acquireLock(ctx, 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logging.Warn("Workspace", "Failed to release lock %s: %v", c.lockPath, err)
		}
	}()

	entries, err := c.readEntries()
	if err != nil {
		// A corrupt cache rebuilds from live data rather than wedging
		// every hub on the host.
		logging.Warn("Workspace", "Workspace cache unreadable, rebuilding: %v", err)
		entries = make(map[string]*Entry)
	}

	pruneDead(entries)

	if err := fn(entries); err != nil {
		return err
	}
	return c.writeEntries(entries)
}

// acquireLock takes the advisory lock with exponential backoff. When all
// attempts fail and the lock file has not been touched for longer than
// the stale threshold, the file is unlinked and acquisition recurses.
func (c *Cache) acquireLock(ctx context.Context, depth int) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(c.lockPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace cache directory: %w", err)
	}

	// A fresh flock per round: after a stale unlink the old fd would
	// still reference the unlinked inode.
	lock := flock.New(c.lockPath)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.lockRetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		locked, lockErr := lock.TryLock()
		if lockErr != nil {
			return struct{}{}, lockErr
		}
		if !locked {
			return struct{}{}, errors.New("lock held by another process")
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(expBackoff), backoff.WithMaxTries(c.lockMaxTries))
	if err == nil {
		// Touch so contenders measure staleness from the latest acquisition.
		now := time.Now()
		if chErr := os.Chtimes(c.lockPath, now, now); chErr != nil {
			logging.Debug("Workspace", "Failed to touch lock file: %v", chErr)
		}
		return lock, nil
	}

	if depth >= maxStaleUnlinkDepth {
		return nil, fmt.Errorf("failed to acquire workspace lock %s: %w", c.lockPath, err)
	}

	info, statErr := os.Stat(c.lockPath)
	if statErr != nil || time.Since(info.ModTime()) < c.staleAfter {
		return nil, fmt.Errorf("failed to acquire workspace lock %s: %w", c.lockPath, err)
	}

	logging.Warn("Workspace", "Removing stale workspace lock %s (untouched for %s)", c.lockPath, time.Since(info.ModTime()).Round(time.Second))
	if rmErr := os.Remove(c.lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, fmt.Errorf("failed to remove stale workspace lock %s: %w", c.lockPath, rmErr)
	}
	return c.acquireLock(ctx, depth+1)
}

func (c *Cache) readEntries() (map[string]*Entry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Entry), nil
		}
		return nil, fmt.Errorf("failed to read workspace cache: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]*Entry), nil
	}

	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse workspace cache: %w", err)
	}
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	return entries, nil
}

// writeEntries replaces the cache file atomically so lock-free readers
// never observe a half-written object.
func (c *Cache) writeEntries(entries map[string]*Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspace cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".workspaces-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp workspace file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write workspace cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush workspace cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace workspace cache: %w", err)
	}
	return nil
}

// pruneDead drops entries whose process no longer exists on this host.
func pruneDead(entries map[string]*Entry) {
	for key, entry := range entries {
		if entry == nil || !pidAlive(entry.PID) {
			logging.Debug("Workspace", "Pruning dead workspace entry for port %s (pid %d)", key, pidOf(entry))
			delete(entries, key)
		}
	}
}

func pidOf(e *Entry) int {
	if e == nil {
		return 0
	}
	return e.PID
}

func portKey(port int) string {
	return strconv.Itoa(port)
}
