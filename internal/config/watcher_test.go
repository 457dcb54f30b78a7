package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, paths []string) (*Watcher, chan struct{}) {
	t.Helper()
	changed := make(chan struct{}, 16)
	w, err := NewWatcher(WatcherOptions{
		Paths:            paths,
		OnChange:         func() { changed <- struct{}{} },
		DebounceInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return w, changed
}

func waitForChange(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}
}

func TestWatcherRequiresOptions(t *testing.T) {
	_, err := NewWatcher(WatcherOptions{OnChange: func() {}})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherOptions{Paths: []string{"/tmp/x.json"}})
	assert.Error(t, err)
}

func TestWatcherDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{"mcpServers":{}}`)

	w, changed := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"a":{"command":"node"}}}`), 0o644))
	waitForChange(t, changed)
}

func TestWatcherSurvivesAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{"mcpServers":{}}`)

	w, changed := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start())
	defer w.Stop()

	// Editors save via temp file plus rename, which replaces the inode.
	tmp := filepath.Join(dir, ".config.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"mcpServers":{"b":{"command":"node"}}}`), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	waitForChange(t, changed)
}

func TestWatcherDetectsLateCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-yet.json")

	w, changed := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))
	waitForChange(t, changed)
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{"mcpServers":{}}`)

	w, changed := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfigFile(t, dir, "unrelated.json", `{}`)

	select {
	case <-changed:
		t.Fatal("unexpected callback for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{"mcpServers":{}}`)

	w, changed := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))
		time.Sleep(5 * time.Millisecond)
	}
	waitForChange(t, changed)

	// The burst collapses into one callback after the quiet period.
	select {
	case <-changed:
		t.Fatal("burst produced more than one callback")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopBeforeStart(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{}`)

	w, _ := newTestWatcher(t, []string{path})
	w.Stop()
	w.Stop()
}

func TestCheckModTimes(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{}`)

	w, _ := newTestWatcher(t, []string{path})
	w.seedModTimes()
	assert.False(t, w.checkModTimes())

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	assert.True(t, w.checkModTimes())
	assert.False(t, w.checkModTimes())

	require.NoError(t, os.Remove(path))
	assert.True(t, w.checkModTimes())
}
