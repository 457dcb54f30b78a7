package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcphub/internal/config"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// Status is the lifecycle state of one upstream server connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusUnauthorized Status = "unauthorized"
	StatusDisabled     Status = "disabled"
)

const (
	// connectTimeout bounds one full connect attempt: transport attach,
	// handshake and capability fetch. Package installs on first run can
	// take minutes (npx, uvx), hence the generous bound.
	connectTimeout = 5 * time.Minute

	// closeTimeout bounds the best-effort session teardown on disconnect.
	closeTimeout = 5 * time.Second

	// notifyFetchTimeout bounds the re-fetch triggered by a list_changed
	// notification.
	notifyFetchTimeout = 30 * time.Second
)

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// Name is the config key for this server.
	Name string

	// Config is cloned; later reloads never mutate it underneath us.
	Config *config.ServerConfig

	// WorkspaceFolder seeds the predefined placeholder variables.
	WorkspaceFolder string

	// Changes receives capability change events. May be nil in tests.
	Changes chan<- ChangeEvent

	// Auth supplies stored tokens and starts authorization flows on 401.
	// May be nil; 401 then parks the connection in unauthorized without
	// an authorization URL.
	Auth AuthFlow
}

// Connection drives the state machine for a single upstream server. All
// exported methods are safe for concurrent use; connect, disconnect and
// restart are serialized against each other.
type Connection struct {
	name            string
	workspaceFolder string
	changes         chan<- ChangeEvent
	auth            AuthFlow

	// transitionMu serializes Connect, Disconnect and Restart.
	transitionMu sync.Mutex

	mu               sync.RWMutex
	cfg              *config.ServerConfig
	status           Status
	lastErr          error
	transport        string
	client           MCPClient
	serverInfo       mcp.Implementation
	authorizationURL string

	tools             []mcp.Tool
	resources         []mcp.Resource
	resourceTemplates []mcp.ResourceTemplate
	prompts           []mcp.Prompt

	startTime   time.Time
	lastStarted time.Time

	devWatcher *DevWatcher
}

// NewConnection builds a connection in disconnected (or disabled) state.
func NewConnection(opts ConnectionOptions) *Connection {
	c := &Connection{
		name:            opts.Name,
		workspaceFolder: opts.WorkspaceFolder,
		changes:         opts.Changes,
		auth:            opts.Auth,
		cfg:             opts.Config.Clone(),
		status:          StatusDisconnected,
	}
	if c.cfg.Disabled {
		c.status = StatusDisabled
	}
	return c
}

// Name returns the config key for this server.
func (c *Connection) Name() string {
	return c.name
}

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Config returns a copy of the connection's view of its config.
func (c *Connection) Config() *config.ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Clone()
}

// SetDisabled flips the disabled flag on the connection's config view.
// The caller is responsible for the matching connect or disconnect.
func (c *Connection) SetDisabled(disabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Disabled = disabled
	if disabled {
		c.status = StatusDisabled
	} else if c.status == StatusDisabled {
		c.status = StatusDisconnected
	}
}

// Connect resolves the config, attaches a transport, performs the
// handshake and fetches capabilities. The returned outcome settles the
// attempt; it never panics the batch the coordinator runs in parallel.
func (c *Connection) Connect(ctx context.Context) ConnectOutcome {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Connection) connectLocked(ctx context.Context) ConnectOutcome {
	c.mu.Lock()
	if c.cfg.Disabled {
		c.mu.Unlock()
		return ConnectOutcome{Server: c.name, Kind: OutcomeFatal, Err: fmt.Errorf("server %s is disabled", c.name)}
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return ConnectOutcome{Server: c.name, Kind: OutcomeConnected}
	}
	cfg := c.cfg.Clone()
	c.status = StatusConnecting
	c.lastErr = nil
	c.authorizationURL = ""
	c.mu.Unlock()

	logging.Info("Connection", "Connecting %s (%s)", c.name, cfg.TransportType())

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	resolved, err := ResolveConfig(connectCtx, cfg, c.workspaceFolder)
	if err != nil {
		c.failConnect(err)
		return ConnectOutcome{Server: c.name, Kind: OutcomeFatal, Err: err}
	}

	var (
		mcpClient MCPClient
		initRes   *mcp.InitializeResult
		transport string
	)
	if cfg.IsStdio() {
		mcpClient, initRes, transport, err = c.connectStdio(connectCtx, resolved)
	} else {
		mcpClient, initRes, transport, err = c.connectRemote(connectCtx, resolved)
	}
	if err != nil {
		if authErr, ok := AsAuthRequired(err); ok {
			url := c.beginAuthorization(ctx, authErr)
			return ConnectOutcome{Server: c.name, Kind: OutcomeNeedsAuth, AuthorizationURL: url, Err: err}
		}
		c.failConnect(err)
		return ConnectOutcome{Server: c.name, Kind: OutcomeTransportError, Err: err}
	}

	caps, err := fetchCapabilities(connectCtx, mcpClient)
	if err != nil {
		closeQuietly(mcpClient, c.name)
		if authErr, ok := AsAuthRequired(err); ok {
			url := c.beginAuthorization(ctx, authErr)
			return ConnectOutcome{Server: c.name, Kind: OutcomeNeedsAuth, AuthorizationURL: url, Err: err}
		}
		c.failConnect(err)
		return ConnectOutcome{Server: c.name, Kind: OutcomeTransportError, Err: err}
	}

	now := time.Now()
	c.mu.Lock()
	c.client = mcpClient
	c.status = StatusConnected
	c.transport = transport
	c.serverInfo = initRes.ServerInfo
	c.tools = caps.tools
	c.resources = caps.resources
	c.resourceTemplates = caps.resourceTemplates
	c.prompts = caps.prompts
	if c.startTime.IsZero() {
		c.startTime = now
	}
	c.lastStarted = now
	c.mu.Unlock()

	// Handlers live on the client instance; the captured pointer keeps a
	// stale handler from touching state after a reconnect swapped clients.
	mcpClient.OnNotification(func(n mcp.JSONRPCNotification) {
		c.handleNotification(mcpClient, n)
	})

	c.startDevWatcher(cfg)

	logging.Info("Connection", "Connected %s via %s: %d tools, %d resources, %d templates, %d prompts",
		c.name, transport, len(caps.tools), len(caps.resources), len(caps.resourceTemplates), len(caps.prompts))
	return ConnectOutcome{Server: c.name, Kind: OutcomeConnected}
}

// connectStdio spawns the child and completes the handshake.
func (c *Connection) connectStdio(ctx context.Context, resolved *ResolvedConfig) (MCPClient, *mcp.InitializeResult, string, error) {
	cli := NewStdioClient(c.name, resolved)
	res, err := cli.Initialize(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	return cli, res, config.MCPTransportStdio, nil
}

// connectRemote tries streamable-HTTP first and falls back to SSE on a
// non-auth failure. A 401 from either transport aborts the fallback; the
// server wants authorization, not a different protocol.
func (c *Connection) connectRemote(ctx context.Context, resolved *ResolvedConfig) (MCPClient, *mcp.InitializeResult, string, error) {
	headers := c.authHeaders(ctx, resolved)

	httpClient := NewStreamableHTTPClient(resolved.URL, headers)
	res, httpErr := httpClient.Initialize(ctx)
	if httpErr == nil {
		return httpClient, res, config.MCPTransportStreamableHTTP, nil
	}
	if _, ok := AsAuthRequired(httpErr); ok {
		return nil, nil, "", httpErr
	}

	logging.Debug("Connection", "streamable-http failed for %s (%v), falling back to SSE", c.name, httpErr)

	sseClient := NewSSEClient(resolved.URL, headers)
	res, sseErr := sseClient.Initialize(ctx)
	if sseErr == nil {
		return sseClient, res, config.MCPTransportSSE, nil
	}
	if _, ok := AsAuthRequired(sseErr); ok {
		return nil, nil, "", sseErr
	}
	return nil, nil, "", fmt.Errorf("streamable-http failed (%v); SSE fallback failed: %w", httpErr, sseErr)
}

// authHeaders copies the resolved headers and injects a stored OAuth token
// unless the config already pins an Authorization value.
func (c *Connection) authHeaders(ctx context.Context, resolved *ResolvedConfig) map[string]string {
	headers := make(map[string]string, len(resolved.Headers)+1)
	for k, v := range resolved.Headers {
		headers[k] = v
	}
	if c.auth == nil {
		return headers
	}
	if _, pinned := headers["Authorization"]; pinned {
		return headers
	}
	if value, ok := c.auth.Header(ctx, c.name, resolved.URL); ok {
		headers["Authorization"] = value
	}
	return headers
}

// beginAuthorization parks the connection in unauthorized and asks the
// auth flow for the URL the user has to visit.
func (c *Connection) beginAuthorization(ctx context.Context, authErr *AuthRequiredError) string {
	var url string
	if c.auth != nil {
		var err error
		url, err = c.auth.AuthorizationURL(ctx, c.name, authErr.ServerURL, authErr.Challenge)
		if err != nil {
			logging.Warn("Connection", "Cannot build authorization URL for %s: %v", c.name, err)
		}
	}

	c.mu.Lock()
	c.status = StatusUnauthorized
	c.lastErr = authErr
	c.authorizationURL = url
	c.mu.Unlock()

	logging.Warn("Connection", "Server %s requires authorization", c.name)
	return url
}

func (c *Connection) failConnect(err error) {
	c.mu.Lock()
	c.status = StatusDisconnected
	c.lastErr = err
	c.mu.Unlock()
	logging.Error("Connection", err, "Failed to connect %s", c.name)
}

// capabilities is the result of one full fetch.
type capabilities struct {
	tools             []mcp.Tool
	resources         []mcp.Resource
	resourceTemplates []mcp.ResourceTemplate
	prompts           []mcp.Prompt
}

// fetchCapabilities lists everything the server offers. Servers are not
// required to implement every list RPC; "method not found" style failures
// leave that capability empty. A 401 is re-raised so the caller can route
// it into the authorization path.
func fetchCapabilities(ctx context.Context, cli MCPClient) (*capabilities, error) {
	caps := &capabilities{}

	tools, err := cli.ListTools(ctx)
	if err != nil {
		if hardErr := capabilityError(err, "tools"); hardErr != nil {
			return nil, hardErr
		}
	} else {
		caps.tools = tools
	}

	resources, err := cli.ListResources(ctx)
	if err != nil {
		if hardErr := capabilityError(err, "resources"); hardErr != nil {
			return nil, hardErr
		}
	} else {
		caps.resources = resources
	}

	templates, err := cli.ListResourceTemplates(ctx)
	if err != nil {
		if hardErr := capabilityError(err, "resource templates"); hardErr != nil {
			return nil, hardErr
		}
	} else {
		caps.resourceTemplates = templates
	}

	prompts, err := cli.ListPrompts(ctx)
	if err != nil {
		if hardErr := capabilityError(err, "prompts"); hardErr != nil {
			return nil, hardErr
		}
	} else {
		caps.prompts = prompts
	}

	return caps, nil
}

// capabilityError decides whether a list failure is fatal. Unsupported
// capabilities are normal; everything else aborts the connect.
func capabilityError(err error, kind string) error {
	if isMethodNotSupported(err) {
		return nil
	}
	return fmt.Errorf("failed to fetch %s: %w", kind, err)
}

// startDevWatcher arms the file watcher for dev-mode stdio servers. An
// existing watcher survives restarts; watcher setup failures degrade to a
// warning because the connection itself is healthy.
func (c *Connection) startDevWatcher(cfg *config.ServerConfig) {
	if !cfg.DevEnabled() || !cfg.IsStdio() {
		return
	}

	c.mu.Lock()
	if c.devWatcher != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	watcher, err := NewDevWatcher(c.name, cfg.Dev.Cwd, cfg.Dev.Watch, func(paths []string) {
		c.devRestart(paths)
	})
	if err != nil {
		logging.Warn("Connection", "Dev watcher for %s not started: %v", c.name, err)
		return
	}
	if err := watcher.Start(); err != nil {
		logging.Warn("Connection", "Dev watcher for %s not started: %v", c.name, err)
		return
	}

	c.mu.Lock()
	c.devWatcher = watcher
	c.mu.Unlock()
}

// devRestart reconnects after a dev-mode file change, keeping the watcher.
func (c *Connection) devRestart(paths []string) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.RLock()
	stopped := c.devWatcher == nil
	disabled := c.cfg.Disabled
	c.mu.RUnlock()
	// A full disconnect between the watch event and this call means the
	// restart is no longer wanted.
	if stopped || disabled {
		return
	}

	logging.Info("Connection", "Dev restart for %s (%d changed files)", c.name, len(paths))
	c.disconnectLocked(true)
	outcome := c.connectLocked(context.Background())
	if !outcome.OK() {
		logging.Error("Connection", outcome.Err, "Dev restart of %s failed", c.name)
		return
	}

	// The process was replaced; every capability list may differ.
	c.emitChange(ChangeTools)
	c.emitChange(ChangeResources)
	c.emitChange(ChangePrompts)
}

// Disconnect tears the connection down: notification handlers die with
// the client, the dev watcher stops, the remote session is terminated on
// a best-effort basis and the capability cache is cleared.
func (c *Connection) Disconnect(ctx context.Context) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()
	c.disconnectLocked(false)
}

func (c *Connection) disconnectLocked(keepWatcher bool) {
	c.mu.Lock()
	cli := c.client
	watcher := c.devWatcher
	c.client = nil
	if !keepWatcher {
		c.devWatcher = nil
	}
	if c.cfg.Disabled {
		c.status = StatusDisabled
	} else {
		c.status = StatusDisconnected
	}
	c.transport = ""
	c.serverInfo = mcp.Implementation{}
	c.authorizationURL = ""
	c.tools = nil
	c.resources = nil
	c.resourceTemplates = nil
	c.prompts = nil
	c.mu.Unlock()

	if watcher != nil && !keepWatcher {
		watcher.Stop()
	}
	if cli != nil {
		closeQuietly(cli, c.name)
	}
}

// closeQuietly closes a client without letting a hung session teardown
// stall the caller past the close deadline.
func closeQuietly(cli MCPClient, name string) {
	done := make(chan error, 1)
	go func() {
		done <- cli.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			logging.Debug("Connection", "Close error for %s: %v", name, err)
		}
	case <-time.After(closeTimeout):
		logging.Warn("Connection", "Session teardown for %s timed out after %s", name, closeTimeout)
	}
}

// handleNotification reacts to server-initiated list_changed messages by
// re-fetching the affected list and emitting a change event.
func (c *Connection) handleNotification(from MCPClient, n mcp.JSONRPCNotification) {
	c.mu.RLock()
	current := c.client == from && c.status == StatusConnected
	c.mu.RUnlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyFetchTimeout)
	defer cancel()

	switch n.Method {
	case "notifications/tools/list_changed":
		tools, err := from.ListTools(ctx)
		if err != nil {
			logging.Warn("Connection", "Re-fetch of tools for %s failed: %v", c.name, err)
			return
		}
		c.mu.Lock()
		c.tools = tools
		c.mu.Unlock()
		c.emitChange(ChangeTools)

	case "notifications/resources/list_changed":
		resources, err := from.ListResources(ctx)
		if err != nil {
			logging.Warn("Connection", "Re-fetch of resources for %s failed: %v", c.name, err)
			return
		}
		templates, err := from.ListResourceTemplates(ctx)
		if err != nil && !isMethodNotSupported(err) {
			logging.Warn("Connection", "Re-fetch of resource templates for %s failed: %v", c.name, err)
		}
		c.mu.Lock()
		c.resources = resources
		if err == nil {
			c.resourceTemplates = templates
		}
		c.mu.Unlock()
		c.emitChange(ChangeResources)

	case "notifications/prompts/list_changed":
		prompts, err := from.ListPrompts(ctx)
		if err != nil {
			logging.Warn("Connection", "Re-fetch of prompts for %s failed: %v", c.name, err)
			return
		}
		c.mu.Lock()
		c.prompts = prompts
		c.mu.Unlock()
		c.emitChange(ChangePrompts)

	default:
		logging.Debug("Connection", "Ignoring notification %s from %s", n.Method, c.name)
	}
}

// emitChange hands a capability change to the coordinator. The channel is
// buffered; if the coordinator is gone the event is dropped, the
// aggregator re-reads current lists on the next event anyway.
func (c *Connection) emitChange(kind ChangeKind) {
	if c.changes == nil {
		return
	}
	select {
	case c.changes <- ChangeEvent{Server: c.name, Kind: kind}:
	default:
		logging.Warn("Connection", "Change event %s for %s dropped: coordinator channel full", kind, c.name)
	}
}

// RefreshCapabilities forces a full capability re-fetch on a connected
// server and emits change events so downstream views update.
func (c *Connection) RefreshCapabilities(ctx context.Context) error {
	c.mu.RLock()
	cli := c.client
	status := c.status
	c.mu.RUnlock()

	if status != StatusConnected || cli == nil {
		return fmt.Errorf("server %s is not connected", c.name)
	}

	caps, err := fetchCapabilities(ctx, cli)
	if err != nil {
		return err
	}

	c.mu.Lock()
	// The client may have been swapped by a concurrent reconnect; only
	// publish lists that belong to the client we fetched from.
	if c.client != cli {
		c.mu.Unlock()
		return fmt.Errorf("server %s reconnected during refresh", c.name)
	}
	c.tools = caps.tools
	c.resources = caps.resources
	c.resourceTemplates = caps.resourceTemplates
	c.prompts = caps.prompts
	c.mu.Unlock()

	c.emitChange(ChangeTools)
	c.emitChange(ChangeResources)
	c.emitChange(ChangePrompts)
	return nil
}

// CallTool forwards a tool call. The tool must exist in the cached list
// and arguments must be a mapping, a sequence or absent.
func (c *Connection) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	switch args.(type) {
	case nil, map[string]interface{}, []interface{}:
	default:
		return nil, fmt.Errorf("tool arguments must be a mapping, a sequence, or null")
	}

	c.mu.RLock()
	cli := c.client
	status := c.status
	known := false
	for i := range c.tools {
		if c.tools[i].Name == name {
			known = true
			break
		}
	}
	c.mu.RUnlock()

	if status != StatusConnected || cli == nil {
		return nil, fmt.Errorf("server %s is not connected", c.name)
	}
	if !known {
		return nil, fmt.Errorf("tool %s not found on server %s", name, c.name)
	}
	return cli.CallTool(ctx, name, args)
}

// ReadResource forwards a resource read. URIs are not validated against
// the cached lists; templates make the full URI space unknowable.
func (c *Connection) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	c.mu.RLock()
	cli := c.client
	status := c.status
	c.mu.RUnlock()

	if status != StatusConnected || cli == nil {
		return nil, fmt.Errorf("server %s is not connected", c.name)
	}
	return cli.ReadResource(ctx, uri)
}

// GetPrompt forwards a prompt request. The prompt must exist in the
// cached list; argument values are stringified for the wire.
func (c *Connection) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	c.mu.RLock()
	cli := c.client
	status := c.status
	known := false
	for i := range c.prompts {
		if c.prompts[i].Name == name {
			known = true
			break
		}
	}
	c.mu.RUnlock()

	if status != StatusConnected || cli == nil {
		return nil, fmt.Errorf("server %s is not connected", c.name)
	}
	if !known {
		return nil, fmt.Errorf("prompt %s not found on server %s", name, c.name)
	}

	var stringArgs map[string]string
	if len(args) > 0 {
		stringArgs = make(map[string]string, len(args))
		for k, v := range args {
			if s, ok := v.(string); ok {
				stringArgs[k] = s
			} else {
				stringArgs[k] = fmt.Sprintf("%v", v)
			}
		}
	}
	return cli.GetPrompt(ctx, name, stringArgs)
}

// Ping checks liveness of a connected server.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.RLock()
	cli := c.client
	status := c.status
	c.mu.RUnlock()

	if status != StatusConnected || cli == nil {
		return fmt.Errorf("server %s is not connected", c.name)
	}
	return cli.Ping(ctx)
}

// Tools returns a copy of the cached tool list.
func (c *Connection) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Tool(nil), c.tools...)
}

// Resources returns a copy of the cached resource list.
func (c *Connection) Resources() []mcp.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Resource(nil), c.resources...)
}

// ResourceTemplates returns a copy of the cached template list.
func (c *Connection) ResourceTemplates() []mcp.ResourceTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.ResourceTemplate(nil), c.resourceTemplates...)
}

// Prompts returns a copy of the cached prompt list.
func (c *Connection) Prompts() []mcp.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Prompt(nil), c.prompts...)
}
