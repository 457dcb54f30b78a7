package hub

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mcphub/internal/config"
	"mcphub/internal/events"
	"mcphub/internal/mcpserver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, cfg *config.Config) (*Hub, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	h := New(Options{
		Config:          cfg,
		WorkspaceFolder: t.TempDir(),
		Bus:             bus,
	})
	t.Cleanup(func() {
		h.Shutdown(context.Background())
		bus.Close()
	})
	return h, bus
}

func disabledServer(command string) *config.ServerConfig {
	return &config.ServerConfig{Command: command, Disabled: true}
}

// brokenServer fails placeholder resolution before any process is
// spawned, so connects settle fast and fatally.
func brokenServer() *config.ServerConfig {
	return &config.ServerConfig{
		Command: "run",
		Args:    []string{"${DEFINITELY_NOT_SET_ANYWHERE_12345}"},
	}
}

// waitForEvent drains the subscription until the wanted type shows up.
func waitForEvent(t *testing.T, ch <-chan events.Event, want events.Type) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				t.Fatalf("bus closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestNewHubDefaults(t *testing.T) {
	h, _ := newTestHub(t, nil)

	assert.Equal(t, StateStarting, h.State())
	assert.Empty(t, h.ServerNames())
	assert.Empty(t, h.Snapshots())
}

func TestInitializeSkipsDisabledServers(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"sleeper": disabledServer("echo"),
	}})

	outcomes := h.Initialize(context.Background())

	assert.Empty(t, outcomes)
	snap, err := h.Snapshot("sleeper")
	require.NoError(t, err)
	assert.Equal(t, mcpserver.StatusDisabled, snap.Status)
	assert.True(t, snap.Disabled)
}

func TestInitializeSettlesFailures(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"flaky":  brokenServer(),
		"parked": disabledServer("echo"),
	}})

	outcomes := h.Initialize(context.Background())

	require.Len(t, outcomes, 1)
	assert.Equal(t, "flaky", outcomes[0].Server)
	assert.Equal(t, mcpserver.OutcomeFatal, outcomes[0].Kind)
	assert.False(t, outcomes[0].OK())

	snap, err := h.Snapshot("flaky")
	require.NoError(t, err)
	assert.Equal(t, mcpserver.StatusDisconnected, snap.Status)
	assert.NotEmpty(t, snap.LastError)
}

func TestSnapshotUnknownServer(t *testing.T) {
	h, _ := newTestHub(t, nil)

	_, err := h.Snapshot("ghost")
	hubErr := AsError(err)
	assert.Equal(t, CodeServerError, hubErr.Code)
	assert.Equal(t, http.StatusNotFound, hubErr.HTTPStatus())
}

func TestStartServerUnknown(t *testing.T) {
	h, _ := newTestHub(t, nil)

	_, err := h.StartServer(context.Background(), "ghost")
	assert.Equal(t, http.StatusNotFound, AsError(err).HTTPStatus())
}

func TestStartServerReportsConnectFailure(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"flaky": brokenServer(),
	}})
	h.Initialize(context.Background())

	snap, err := h.StartServer(context.Background(), "flaky")

	assert.Equal(t, CodeConnectionError, AsError(err).Code)
	assert.Equal(t, mcpserver.StatusDisconnected, snap.Status)
	assert.NotEmpty(t, snap.LastError)
}

func TestStopServerDisablePersistsIntoConfigView(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": brokenServer(),
	}})
	h.Initialize(context.Background())

	snap, err := h.StopServer(context.Background(), "svc", true)
	require.NoError(t, err)
	assert.Equal(t, mcpserver.StatusDisabled, snap.Status)
	assert.True(t, snap.Disabled)

	h.mu.RLock()
	current := h.cfg.Clone()
	h.mu.RUnlock()
	require.True(t, current.Servers["svc"].Disabled)

	// A reload with the original definition now counts the disabled flag
	// as the modification.
	delta := config.Diff(current, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": brokenServer(),
	}})
	assert.Equal(t, []string{"svc"}, delta.Modified)
}

func TestStopWithoutDisableKeepsServerEnabled(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": brokenServer(),
	}})
	h.Initialize(context.Background())

	snap, err := h.StopServer(context.Background(), "svc", false)
	require.NoError(t, err)
	assert.Equal(t, mcpserver.StatusDisconnected, snap.Status)
	assert.False(t, snap.Disabled)
}

func TestCallToolFailsFast(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": disabledServer("echo"),
	}})
	h.Initialize(context.Background())

	_, err := h.CallTool(context.Background(), "ghost", "anything", nil)
	assert.Equal(t, http.StatusNotFound, AsError(err).HTTPStatus())

	_, err = h.CallTool(context.Background(), "svc", "anything", nil)
	hubErr := AsError(err)
	assert.Equal(t, http.StatusServiceUnavailable, hubErr.HTTPStatus())
	assert.Equal(t, "disabled", hubErr.Data["status"])
}

func TestReadResourceAndGetPromptFailFast(t *testing.T) {
	h, _ := newTestHub(t, nil)

	_, err := h.ReadResource(context.Background(), "ghost", "file:///x")
	assert.Equal(t, http.StatusNotFound, AsError(err).HTTPStatus())

	_, err = h.GetPrompt(context.Background(), "ghost", "greet", nil)
	assert.Equal(t, http.StatusNotFound, AsError(err).HTTPStatus())
}

func TestRefreshServerRequiresConnection(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": brokenServer(),
	}})
	h.Initialize(context.Background())

	_, err := h.RefreshServer(context.Background(), "svc")
	assert.Equal(t, http.StatusServiceUnavailable, AsError(err).HTTPStatus())

	_, err = h.RefreshServer(context.Background(), "ghost")
	assert.Equal(t, http.StatusNotFound, AsError(err).HTTPStatus())
}

func TestRefreshAllSkipsUnconnected(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"a": disabledServer("echo"),
		"b": brokenServer(),
	}})
	h.Initialize(context.Background())

	snaps := h.RefreshAll(context.Background())

	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].Name)
	assert.Equal(t, "b", snaps[1].Name)
}

func TestSetStateBroadcasts(t *testing.T) {
	h, bus := newTestHub(t, nil)
	ch := bus.Subscribe("watcher")
	defer bus.Unsubscribe("watcher")

	h.SetState(StateReady)

	ev := waitForEvent(t, ch, events.TypeHubState)
	assert.Equal(t, "ready", ev.Data["state"])
	assert.Equal(t, StateReady, h.State())

	// Re-announcing the same state is silent.
	h.SetState(StateReady)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event after no-op transition", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnChangeListenersFireOnStop(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": brokenServer(),
	}})
	h.Initialize(context.Background())

	var mu sync.Mutex
	var kinds []mcpserver.ChangeKind
	h.OnChange(func(ev mcpserver.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Server == "svc" {
			kinds = append(kinds, ev.Kind)
		}
	})

	h.StopServer(context.Background(), "svc", false)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []mcpserver.ChangeKind{
		mcpserver.ChangeTools, mcpserver.ChangeResources, mcpserver.ChangePrompts,
	}, kinds)
}

func TestReconcileAddsAndRemoves(t *testing.T) {
	h, bus := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"a": disabledServer("echo"),
		"b": disabledServer("echo"),
	}})
	h.Initialize(context.Background())
	ch := bus.Subscribe("watcher")
	defer bus.Unsubscribe("watcher")

	delta := h.Reconcile(context.Background(), &config.Config{Servers: map[string]*config.ServerConfig{
		"b": disabledServer("echo"),
		"c": disabledServer("echo"),
	}})

	assert.Equal(t, []string{"c"}, delta.Added)
	assert.Equal(t, []string{"a"}, delta.Removed)
	assert.Equal(t, []string{"b"}, delta.Unchanged)
	assert.Equal(t, []string{"b", "c"}, h.ServerNames())

	updating := waitForEvent(t, ch, events.TypeServersUpdating)
	assert.Equal(t, []string{"c"}, updating.Data["added"])
	updated := waitForEvent(t, ch, events.TypeServersUpdated)
	assert.Equal(t, []string{"a"}, updated.Data["removed"])
}

func TestReconcileInsignificantDeltaEmitsNothing(t *testing.T) {
	h, bus := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"a": disabledServer("echo"),
	}})
	h.Initialize(context.Background())
	ch := bus.Subscribe("watcher")
	defer bus.Unsubscribe("watcher")

	delta := h.Reconcile(context.Background(), &config.Config{Servers: map[string]*config.ServerConfig{
		"a": disabledServer("echo"),
	}})

	assert.False(t, delta.Significant())
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event for no-op reconcile", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconcileDisabledToggle(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": brokenServer(),
	}})
	h.Initialize(context.Background())
	before, ok := h.connection("svc")
	require.True(t, ok)

	toggled := brokenServer()
	toggled.Disabled = true
	delta := h.Reconcile(context.Background(), &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": toggled,
	}})

	assert.Equal(t, []string{"svc"}, delta.Modified)
	snap, err := h.Snapshot("svc")
	require.NoError(t, err)
	assert.Equal(t, mcpserver.StatusDisabled, snap.Status)

	// Only the flag flipped, so the connection object survives.
	after, _ := h.connection("svc")
	assert.Same(t, before, after)
}

func TestReconcileModifiedReplacesConnection(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": disabledServer("echo"),
	}})
	h.Initialize(context.Background())
	before, ok := h.connection("svc")
	require.True(t, ok)

	h.Reconcile(context.Background(), &config.Config{Servers: map[string]*config.ServerConfig{
		"svc": disabledServer("python"),
	}})

	after, ok := h.connection("svc")
	require.True(t, ok)
	assert.NotSame(t, before, after)
	assert.Equal(t, "python", after.Config().Command)
}

func TestRestartReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	writeConfig(`{"mcpServers": {"a": {"command": "echo", "disabled": true}}}`)

	initial, err := config.Load([]string{path})
	require.NoError(t, err)

	bus := events.NewBus()
	h := New(Options{
		Config:          initial,
		ConfigPaths:     []string{path},
		WorkspaceFolder: dir,
		Bus:             bus,
	})
	t.Cleanup(func() {
		h.Shutdown(context.Background())
		bus.Close()
	})
	h.Initialize(context.Background())
	h.SetState(StateReady)

	ch := bus.Subscribe("watcher")
	defer bus.Unsubscribe("watcher")

	writeConfig(`{"mcpServers": {"b": {"command": "echo", "disabled": true}}}`)
	delta, err := h.Restart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, delta.Added)
	assert.Equal(t, []string{"a"}, delta.Removed)
	assert.Equal(t, []string{"b"}, h.ServerNames())

	ev := waitForEvent(t, ch, events.TypeHubState)
	assert.Equal(t, "restarting", ev.Data["state"])
	ev = waitForEvent(t, ch, events.TypeHubState)
	assert.Equal(t, "restarted", ev.Data["state"])
	ev = waitForEvent(t, ch, events.TypeHubState)
	assert.Equal(t, "ready", ev.Data["state"])
}

func TestRestartWithBrokenConfigKeepsServing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"a": {"command": "echo", "disabled": true}}}`), 0o644))

	initial, err := config.Load([]string{path})
	require.NoError(t, err)

	bus := events.NewBus()
	h := New(Options{Config: initial, ConfigPaths: []string{path}, WorkspaceFolder: dir, Bus: bus})
	t.Cleanup(func() {
		h.Shutdown(context.Background())
		bus.Close()
	})
	h.Initialize(context.Background())
	h.SetState(StateReady)

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"a": {}}}`), 0o644))
	_, err = h.Restart(context.Background())

	hubErr := AsError(err)
	assert.Equal(t, CodeConfigError, hubErr.Code)
	assert.Equal(t, StateReady, h.State())
	assert.Equal(t, []string{"a"}, h.ServerNames())
}

func TestCompleteOAuthWithoutManager(t *testing.T) {
	h, _ := newTestHub(t, nil)

	_, err := h.CompleteOAuth(context.Background(), "code", "state", "svc")
	assert.Equal(t, CodeAuthError, AsError(err).Code)
}

func TestAuthorizeServerValidation(t *testing.T) {
	h, _ := newTestHub(t, &config.Config{Servers: map[string]*config.ServerConfig{
		"local": disabledServer("echo"),
	}})
	h.Initialize(context.Background())

	_, err := h.AuthorizeServer(context.Background(), "ghost")
	assert.Equal(t, http.StatusNotFound, AsError(err).HTTPStatus())

	// OAuth manager missing is reported before the transport check.
	_, err = h.AuthorizeServer(context.Background(), "local")
	assert.Equal(t, CodeAuthError, AsError(err).Code)
}

func TestShutdownStops(t *testing.T) {
	bus := events.NewBus()
	h := New(Options{Bus: bus, WorkspaceFolder: t.TempDir()})
	ch := bus.Subscribe("watcher")

	h.Shutdown(context.Background())

	ev := waitForEvent(t, ch, events.TypeHubState)
	assert.Equal(t, "stopping", ev.Data["state"])
	ev = waitForEvent(t, ch, events.TypeHubState)
	assert.Equal(t, "stopped", ev.Data["state"])
	assert.Equal(t, StateStopped, h.State())
	assert.Empty(t, h.ServerNames())
	bus.Close()
}
