// Package hub coordinates the lifecycle of all configured MCP server
// connections. It owns the server map, applies config deltas with
// settle-all semantics, drives the OAuth flow for remote servers and
// fans capability-change events out to the event bus and registered
// listeners (the aggregator).
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"mcphub/internal/config"
	"mcphub/internal/events"
	"mcphub/internal/mcpserver"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// changeBuffer sizes the capability-change channel shared by all
// connections. The pump drains it continuously; the buffer only covers
// bursts.
const changeBuffer = 64

// Options configures a Hub.
type Options struct {
	// Config is the initial merged config. May be nil for an empty hub.
	Config *config.Config

	// ConfigPaths are the files Restart reloads, in merge order.
	ConfigPaths []string

	// WorkspaceFolder anchors ${workspaceFolder} placeholder resolution.
	WorkspaceFolder string

	// Bus receives hub_state, servers_updating/updated and capability
	// change events.
	Bus *events.Bus

	// Auth drives OAuth for remote servers. Nil disables OAuth: servers
	// answering 401 park in unauthorized without an authorization URL.
	Auth *OAuthManager
}

// Hub is the coordinator. All exported methods are safe for concurrent
// use.
type Hub struct {
	bus             *events.Bus
	auth            *OAuthManager
	states          *stateMachine
	workspaceFolder string
	configPaths     []string

	mu          sync.RWMutex
	connections map[string]*mcpserver.Connection
	cfg         *config.Config

	listenerMu sync.RWMutex
	listeners  []func(mcpserver.ChangeEvent)

	changes  chan mcpserver.ChangeEvent
	stopPump context.CancelFunc
	pumpDone chan struct{}
}

// New creates a hub over the given config and starts its event pump. No
// connections are attempted until Initialize.
func New(opts Options) *Hub {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{Servers: map[string]*config.ServerConfig{}}
	}

	h := &Hub{
		bus:             opts.Bus,
		auth:            opts.Auth,
		states:          newStateMachine(opts.Bus),
		workspaceFolder: opts.WorkspaceFolder,
		configPaths:     append([]string(nil), opts.ConfigPaths...),
		connections:     make(map[string]*mcpserver.Connection),
		cfg:             cfg.Clone(),
		changes:         make(chan mcpserver.ChangeEvent, changeBuffer),
		pumpDone:        make(chan struct{}),
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	h.stopPump = cancel
	go h.pumpChanges(pumpCtx)
	return h
}

// authFlow converts the concrete manager to the connection-facing
// interface without producing a typed-nil interface value.
func (h *Hub) authFlow() mcpserver.AuthFlow {
	if h.auth == nil {
		return nil
	}
	return h.auth
}

func (h *Hub) newConnection(name string, sc *config.ServerConfig) *mcpserver.Connection {
	return mcpserver.NewConnection(mcpserver.ConnectionOptions{
		Name:            name,
		Config:          sc,
		WorkspaceFolder: h.workspaceFolder,
		Changes:         h.changes,
		Auth:            h.authFlow(),
	})
}

// OnChange registers a listener for capability changes. Listeners run on
// hub goroutines and must return quickly. Register before Initialize.
func (h *Hub) OnChange(fn func(mcpserver.ChangeEvent)) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Hub) notifyListeners(ev mcpserver.ChangeEvent) {
	h.listenerMu.RLock()
	listeners := h.listeners
	h.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// announce tells listeners and the bus that every capability list of a
// server may have changed: after connects, disconnects and removals.
func (h *Hub) announce(name string) {
	for _, kind := range []mcpserver.ChangeKind{mcpserver.ChangeTools, mcpserver.ChangeResources, mcpserver.ChangePrompts} {
		if busType, ok := busEventFor(kind); ok {
			h.bus.Publish(busType, map[string]interface{}{
				"server": name,
			})
		}
		h.notifyListeners(mcpserver.ChangeEvent{Server: name, Kind: kind})
	}
}

// pumpChanges forwards notification-driven capability changes from the
// connections to the bus and the listeners.
func (h *Hub) pumpChanges(ctx context.Context) {
	defer close(h.pumpDone)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.changes:
			if busType, ok := busEventFor(ev.Kind); ok {
				h.bus.Publish(busType, map[string]interface{}{
					"server": ev.Server,
				})
			}
			h.notifyListeners(ev)
		}
	}
}

func busEventFor(kind mcpserver.ChangeKind) (events.Type, bool) {
	switch kind {
	case mcpserver.ChangeTools:
		return events.TypeToolListChanged, true
	case mcpserver.ChangeResources:
		return events.TypeResourceListChanged, true
	case mcpserver.ChangePrompts:
		return events.TypePromptListChanged, true
	}
	return "", false
}

// Initialize creates connections for every configured server and
// connects all non-disabled ones in parallel. Individual failures never
// abort the batch; the outcomes report what happened per server.
func (h *Hub) Initialize(ctx context.Context) []mcpserver.ConnectOutcome {
	h.mu.Lock()
	for name, sc := range h.cfg.Servers {
		if _, exists := h.connections[name]; !exists {
			h.connections[name] = h.newConnection(name, sc)
		}
	}
	targets := make([]*mcpserver.Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		if conn.Status() != mcpserver.StatusDisabled {
			targets = append(targets, conn)
		}
	}
	h.mu.Unlock()

	outcomes := h.connectAll(ctx, targets)

	var connected, needsAuth, failed int
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case mcpserver.OutcomeConnected:
			connected++
		case mcpserver.OutcomeNeedsAuth:
			needsAuth++
		default:
			failed++
		}
	}
	logging.Info("Hub", "Initialized: %d connected, %d awaiting authorization, %d failed, %d disabled",
		connected, needsAuth, failed, len(h.connections)-len(targets))
	return outcomes
}

// connectAll connects the given servers in parallel and settles every
// attempt.
func (h *Hub) connectAll(ctx context.Context, conns []*mcpserver.Connection) []mcpserver.ConnectOutcome {
	outcomes := make([]mcpserver.ConnectOutcome, len(conns))
	var g errgroup.Group
	for i, conn := range conns {
		g.Go(func() error {
			outcomes[i] = conn.Connect(ctx)
			h.announce(conn.Name())
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (h *Hub) connection(name string) (*mcpserver.Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[name]
	return conn, ok
}

// ServerNames returns the configured server names, sorted.
func (h *Hub) ServerNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.connections))
	for name := range h.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the status of every server, sorted by name.
func (h *Hub) Snapshots() []mcpserver.Snapshot {
	h.mu.RLock()
	conns := make([]*mcpserver.Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	snaps := make([]mcpserver.Snapshot, 0, len(conns))
	for _, conn := range conns {
		snaps = append(snaps, conn.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Snapshot returns the status of one server.
func (h *Hub) Snapshot(name string) (mcpserver.Snapshot, error) {
	conn, ok := h.connection(name)
	if !ok {
		return mcpserver.Snapshot{}, NewServerNotFoundError(name)
	}
	return conn.Snapshot(), nil
}

// ServerTools returns the cached tool list of one server; nil when the
// server is unknown or has none.
func (h *Hub) ServerTools(name string) []mcp.Tool {
	if conn, ok := h.connection(name); ok {
		return conn.Tools()
	}
	return nil
}

// ServerResources returns the cached resource list of one server.
func (h *Hub) ServerResources(name string) []mcp.Resource {
	if conn, ok := h.connection(name); ok {
		return conn.Resources()
	}
	return nil
}

// ServerResourceTemplates returns the cached resource templates of one
// server.
func (h *Hub) ServerResourceTemplates(name string) []mcp.ResourceTemplate {
	if conn, ok := h.connection(name); ok {
		return conn.ResourceTemplates()
	}
	return nil
}

// ServerPrompts returns the cached prompt list of one server.
func (h *Hub) ServerPrompts(name string) []mcp.Prompt {
	if conn, ok := h.connection(name); ok {
		return conn.Prompts()
	}
	return nil
}

// StartServer connects (and re-enables) one server.
func (h *Hub) StartServer(ctx context.Context, name string) (mcpserver.Snapshot, error) {
	conn, ok := h.connection(name)
	if !ok {
		return mcpserver.Snapshot{}, NewServerNotFoundError(name)
	}

	conn.SetDisabled(false)
	h.setConfigDisabled(name, false)

	outcome := conn.Connect(ctx)
	h.announce(name)

	switch outcome.Kind {
	case mcpserver.OutcomeConnected:
		return conn.Snapshot(), nil
	case mcpserver.OutcomeNeedsAuth:
		return conn.Snapshot(), NewAuthError(name, outcome.AuthorizationURL, outcome.Err)
	default:
		return conn.Snapshot(), NewConnectionError(name, outcome.Err)
	}
}

// StopServer disconnects one server. With disable the server also stops
// participating in future reconnects until re-enabled, and the disabled
// flag persists into the merged config view.
func (h *Hub) StopServer(ctx context.Context, name string, disable bool) (mcpserver.Snapshot, error) {
	conn, ok := h.connection(name)
	if !ok {
		return mcpserver.Snapshot{}, NewServerNotFoundError(name)
	}

	if disable {
		conn.SetDisabled(true)
		h.setConfigDisabled(name, true)
	}
	conn.Disconnect(ctx)
	h.announce(name)
	return conn.Snapshot(), nil
}

// setConfigDisabled records a runtime enable/disable in the merged
// config view so the next reload diffs against what is actually running.
func (h *Hub) setConfigDisabled(name string, disabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sc, ok := h.cfg.Servers[name]; ok {
		sc.Disabled = disabled
	}
}

// RefreshServer re-fetches the capability lists of one connected server.
func (h *Hub) RefreshServer(ctx context.Context, name string) (mcpserver.Snapshot, error) {
	conn, ok := h.connection(name)
	if !ok {
		return mcpserver.Snapshot{}, NewServerNotFoundError(name)
	}
	if status := conn.Status(); status != mcpserver.StatusConnected {
		return conn.Snapshot(), NewServerNotConnectedError(name, string(status))
	}
	if err := conn.RefreshCapabilities(ctx); err != nil {
		return conn.Snapshot(), NewServerError(name, fmt.Sprintf("capability refresh for %q failed: %v", name, err), err)
	}
	return conn.Snapshot(), nil
}

// RefreshAll re-fetches capabilities of every connected server in
// parallel. Failures are logged, never fatal.
func (h *Hub) RefreshAll(ctx context.Context) []mcpserver.Snapshot {
	h.mu.RLock()
	conns := make([]*mcpserver.Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	var g errgroup.Group
	for _, conn := range conns {
		if conn.Status() != mcpserver.StatusConnected {
			continue
		}
		g.Go(func() error {
			if err := conn.RefreshCapabilities(ctx); err != nil {
				logging.Warn("Hub", "Refresh of %s failed: %v", conn.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return h.Snapshots()
}

// CallTool invokes a tool on the named server. Unknown servers and
// servers that are not connected fail fast.
func (h *Hub) CallTool(ctx context.Context, server, tool string, args any) (*mcp.CallToolResult, error) {
	conn, err := h.connectedServer(server)
	if err != nil {
		return nil, err
	}
	result, err := conn.CallTool(ctx, tool, args)
	if err != nil {
		return nil, NewToolError(server, tool, err)
	}
	return result, nil
}

// ReadResource reads a resource from the named server by URI.
func (h *Hub) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	conn, err := h.connectedServer(server)
	if err != nil {
		return nil, err
	}
	result, err := conn.ReadResource(ctx, uri)
	if err != nil {
		return nil, NewResourceError(server, uri, err)
	}
	return result, nil
}

// GetPrompt fetches a prompt from the named server.
func (h *Hub) GetPrompt(ctx context.Context, server, prompt string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	conn, err := h.connectedServer(server)
	if err != nil {
		return nil, err
	}
	result, err := conn.GetPrompt(ctx, prompt, args)
	if err != nil {
		return nil, NewPromptError(server, prompt, err)
	}
	return result, nil
}

func (h *Hub) connectedServer(name string) (*mcpserver.Connection, error) {
	conn, ok := h.connection(name)
	if !ok {
		return nil, NewServerNotFoundError(name)
	}
	if status := conn.Status(); status != mcpserver.StatusConnected {
		return nil, NewServerNotConnectedError(name, string(status))
	}
	return conn, nil
}

// AuthorizeServer starts a fresh OAuth flow for one remote server and
// returns the authorization URL.
func (h *Hub) AuthorizeServer(ctx context.Context, name string) (string, error) {
	conn, ok := h.connection(name)
	if !ok {
		return "", NewServerNotFoundError(name)
	}
	if h.auth == nil {
		return "", NewAuthError(name, "", errors.New("OAuth is not configured"))
	}
	cfg := conn.Config()
	if cfg.URL == "" {
		return "", NewValidationError(fmt.Sprintf("server %q is not a remote server", name), map[string]interface{}{
			"server": name,
		})
	}
	authURL, err := h.auth.AuthorizationURL(ctx, name, cfg.URL, nil)
	if err != nil {
		return "", NewAuthError(name, "", err)
	}
	return authURL, nil
}

// CompleteOAuth redeems an authorization callback and reconnects the
// server in the background. Returns the server the flow belonged to.
func (h *Hub) CompleteOAuth(ctx context.Context, code, state, serverName string) (string, error) {
	if h.auth == nil {
		return "", NewAuthError(serverName, "", errors.New("OAuth is not configured"))
	}
	server, err := h.auth.Complete(ctx, code, state, serverName)
	if err != nil {
		return "", err
	}

	// The callback page should render immediately; the reconnect runs in
	// the background and surfaces through events and the health endpoint.
	go func() {
		if _, err := h.StartServer(context.Background(), server); err != nil {
			logging.Warn("Hub", "Reconnect of %s after authorization failed: %v", server, err)
		}
	}()
	return server, nil
}

// Reconcile diffs the new config against the hub's current view and
// applies the delta: added servers connect, removed ones disconnect,
// modified ones restart (or just toggle when only the disabled flag
// changed). All work runs in parallel with settle-all semantics.
func (h *Hub) Reconcile(ctx context.Context, newCfg *config.Config) config.Delta {
	h.mu.Lock()
	delta := config.Diff(h.cfg, newCfg)
	oldServers := h.cfg.Servers
	h.cfg = newCfg.Clone()
	h.mu.Unlock()

	if !delta.Significant() {
		logging.Info("Hub", "Config reload produced no server changes")
		return delta
	}

	logging.Info("Hub", "Reconciling servers: %d added, %d removed, %d modified",
		len(delta.Added), len(delta.Removed), len(delta.Modified))
	h.bus.Publish(events.TypeServersUpdating, deltaPayload(delta))

	var g errgroup.Group
	for _, name := range delta.Added {
		g.Go(func() error {
			h.addServer(ctx, name)
			return nil
		})
	}
	for _, name := range delta.Removed {
		g.Go(func() error {
			h.removeServer(ctx, name)
			return nil
		})
	}
	for _, name := range delta.Modified {
		g.Go(func() error {
			h.modifyServer(ctx, name, oldServers[name])
			return nil
		})
	}
	_ = g.Wait()

	h.bus.Publish(events.TypeServersUpdated, deltaPayload(delta))
	return delta
}

func deltaPayload(delta config.Delta) map[string]interface{} {
	return map[string]interface{}{
		"added":     delta.Added,
		"removed":   delta.Removed,
		"modified":  delta.Modified,
		"unchanged": delta.Unchanged,
	}
}

func (h *Hub) addServer(ctx context.Context, name string) {
	h.mu.Lock()
	sc, ok := h.cfg.Servers[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	conn := h.newConnection(name, sc)
	h.connections[name] = conn
	h.mu.Unlock()

	if !sc.Disabled {
		logOutcome(conn.Connect(ctx))
	}
	h.announce(name)
}

func (h *Hub) removeServer(ctx context.Context, name string) {
	h.mu.Lock()
	conn := h.connections[name]
	delete(h.connections, name)
	h.mu.Unlock()

	if conn != nil {
		conn.Disconnect(ctx)
	}
	h.announce(name)
}

// modifyServer restarts a server whose definition changed. When only the
// disabled flag flipped, the existing connection is kept and toggled;
// otherwise it is replaced wholesale so stale transports, watchers and
// capability caches cannot leak across configs.
func (h *Hub) modifyServer(ctx context.Context, name string, oldSC *config.ServerConfig) {
	h.mu.Lock()
	newSC, ok := h.cfg.Servers[name]
	conn := h.connections[name]
	h.mu.Unlock()
	if !ok || conn == nil {
		return
	}

	if onlyDisabledToggled(oldSC, newSC) {
		conn.SetDisabled(newSC.Disabled)
		if newSC.Disabled {
			conn.Disconnect(ctx)
		} else {
			logOutcome(conn.Connect(ctx))
		}
		h.announce(name)
		return
	}

	conn.Disconnect(ctx)
	replacement := h.newConnection(name, newSC)
	h.mu.Lock()
	h.connections[name] = replacement
	h.mu.Unlock()

	if !newSC.Disabled {
		logOutcome(replacement.Connect(ctx))
	}
	h.announce(name)
}

func onlyDisabledToggled(oldSC, newSC *config.ServerConfig) bool {
	if oldSC == nil || newSC == nil || oldSC.Disabled == newSC.Disabled {
		return false
	}
	aligned := oldSC.Clone()
	aligned.Disabled = newSC.Disabled
	return aligned.Equal(newSC)
}

func logOutcome(outcome mcpserver.ConnectOutcome) {
	switch outcome.Kind {
	case mcpserver.OutcomeConnected:
	case mcpserver.OutcomeNeedsAuth:
		logging.Warn("Hub", "Server %s awaits authorization: %s", outcome.Server, outcome.AuthorizationURL)
	default:
		logging.Error("Hub", outcome.Err, "Server %s failed to connect", outcome.Server)
	}
}

// Restart reloads the config files and reconciles, without tearing down
// SSE clients or the HTTP listener. State walks restarting -> restarted
// -> ready even when nothing changed.
func (h *Hub) Restart(ctx context.Context) (config.Delta, error) {
	h.SetState(StateRestarting)

	newCfg, err := config.Load(h.configPaths)
	if err != nil {
		// The hub keeps serving the previous config.
		h.SetState(StateReady)
		return config.Delta{}, NewConfigError(fmt.Sprintf("config reload failed: %v", err), map[string]interface{}{
			"paths": h.configPaths,
		}, err)
	}

	delta := h.Reconcile(ctx, newCfg)
	h.SetState(StateRestarted)
	h.SetState(StateReady)
	return delta, nil
}

// Shutdown disconnects every server in parallel and stops the event
// pump. The hub is unusable afterwards.
func (h *Hub) Shutdown(ctx context.Context) {
	h.SetState(StateStopping)

	h.mu.Lock()
	conns := make([]*mcpserver.Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.connections = make(map[string]*mcpserver.Connection)
	h.mu.Unlock()

	var g errgroup.Group
	for _, conn := range conns {
		g.Go(func() error {
			conn.Disconnect(ctx)
			return nil
		})
	}
	_ = g.Wait()

	h.stopPump()
	<-h.pumpDone
	h.SetState(StateStopped)
}
