package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Provider supplies the capability caches of the backend servers and
// forwards tool, resource and prompt requests to the owning server.
// *hub.Hub satisfies it.
type Provider interface {
	ServerNames() []string
	ServerTools(name string) []mcp.Tool
	ServerResources(name string) []mcp.Resource
	ServerPrompts(name string) []mcp.Prompt

	CallTool(ctx context.Context, server, tool string, args any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, server, prompt string, args map[string]interface{}) (*mcp.GetPromptResult, error)
}

// Server publishes the capabilities of every connected backend server on
// a single streamable-HTTP MCP endpoint. Tools and prompts are exposed
// under namespaced identifiers, resources under their original URIs.
type Server struct {
	name     string
	version  string
	provider Provider

	server     *server.MCPServer
	httpServer *server.StreamableHTTPServer

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex

	// Collapsed refresh signal; capacity 1 so a pending refresh absorbs
	// any number of triggers.
	updateCh  chan struct{}
	refreshMu sync.Mutex

	// Handler tracking - which exposed identifiers are currently published
	toolManager     *activeItemManager
	promptManager   *activeItemManager
	resourceManager *activeItemManager

	routeMu        sync.RWMutex
	resourceRoutes map[string]string
}

// New creates the unified MCP server. The returned server is ready to be
// mounted via Handler; Start launches the refresh loop.
func New(name, version string, provider Provider) *Server {
	a := &Server{
		name:            name,
		version:         version,
		provider:        provider,
		updateCh:        make(chan struct{}, 1),
		toolManager:     newActiveItemManager(itemTypeTool),
		promptManager:   newActiveItemManager(itemTypePrompt),
		resourceManager: newActiveItemManager(itemTypeResource),
		resourceRoutes:  make(map[string]string),
	}

	a.server = server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
	)
	a.httpServer = server.NewStreamableHTTPServer(
		a.server,
		server.WithEndpointPath("/mcp"),
	)

	return a
}

// Handler returns the streamable-HTTP handler for mounting on the shared
// router. Valid immediately after New.
func (a *Server) Handler() http.Handler {
	return a.httpServer
}

// Start launches the refresh loop and publishes the initial capability
// set.
func (a *Server) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.ctx != nil {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already started")
	}
	a.ctx, a.cancelFunc = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.monitorUpdates()

	a.updateCapabilities()
	return nil
}

// Stop halts the refresh loop and terminates the MCP sessions. The
// listener itself is owned by the management server and drained there.
func (a *Server) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancelFunc := a.cancelFunc
	a.ctx, a.cancelFunc = nil, nil
	a.mu.Unlock()

	if cancelFunc == nil {
		return fmt.Errorf("aggregator not started")
	}
	cancelFunc()
	a.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		logging.Error("Aggregator", err, "Error shutting down MCP endpoint")
	}
	return nil
}

// Refresh schedules a capability recomputation. Safe to call from any
// goroutine; triggers are collapsed while a refresh is pending.
func (a *Server) Refresh() {
	select {
	case a.updateCh <- struct{}{}:
	default:
	}
}

// Counts returns how many tools, resources and prompts are currently
// published.
func (a *Server) Counts() (tools, resources, prompts int) {
	return a.toolManager.count(), a.resourceManager.count(), a.promptManager.count()
}

// Tools returns the currently published tool definitions.
func (a *Server) Tools() []mcp.Tool {
	var tools []mcp.Tool
	for _, serverName := range a.provider.ServerNames() {
		for _, tool := range a.provider.ServerTools(serverName) {
			exposed := ExposedName(serverName, tool.Name)
			if !a.toolManager.isActive(exposed) {
				continue
			}
			published := tool
			published.Name = exposed
			tools = append(tools, published)
		}
	}
	return tools
}

// monitorUpdates recomputes the published capability set whenever a
// refresh is signalled.
func (a *Server) monitorUpdates() {
	defer a.wg.Done()

	a.mu.RLock()
	ctx := a.ctx
	a.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.updateCh:
			a.updateCapabilities()
		}
	}
}

// updateCapabilities diffs the backend capability caches against the
// published set: route table first, then removals, then additions.
// Cycles are serialized; the caches are re-read on every run.
func (a *Server) updateCapabilities() {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	collected := collectItems(a.provider)

	a.routeMu.Lock()
	a.resourceRoutes = collected.resourceRoutes
	a.routeMu.Unlock()

	a.removeObsoleteItems(collected)
	a.addNewItems(collected)

	logging.Debug("Aggregator", "Published capabilities: %d tools, %d resources, %d prompts",
		a.toolManager.count(), a.resourceManager.count(), a.promptManager.count())
}

// removeObsoleteItems removes items that are no longer available.
func (a *Server) removeObsoleteItems(collected *collectResult) {
	removeObsoleteItems(
		a.toolManager,
		collected.newTools,
		func(items []string) {
			a.server.DeleteTools(items...)
		},
	)

	removeObsoleteItems(
		a.promptManager,
		collected.newPrompts,
		func(items []string) {
			a.server.DeletePrompts(items...)
		},
	)

	removeObsoleteItems(
		a.resourceManager,
		collected.newResources,
		func(items []string) {
			// The MCP server API has no batch removal for resources, so
			// each removal notifies the clients separately.
			for _, uri := range items {
				a.server.RemoveResource(uri)
			}
		},
	)
}

// addNewItems registers handlers for items that are new or whose
// definition changed. Re-adding an existing identifier overwrites its
// definition in place.
func (a *Server) addNewItems(collected *collectResult) {
	var toolsToAdd []server.ServerTool
	var promptsToAdd []server.ServerPrompt
	var resourcesToAdd []server.ServerResource

	for _, serverName := range a.provider.ServerNames() {
		for _, tool := range a.provider.ServerTools(serverName) {
			exposed := ExposedName(serverName, tool.Name)
			published := tool
			published.Name = exposed
			if !a.toolManager.upsert(exposed, fingerprint(published)) {
				continue
			}
			toolsToAdd = append(toolsToAdd, server.ServerTool{
				Tool:    published,
				Handler: toolHandlerFactory(a, exposed),
			})
		}

		for _, prompt := range a.provider.ServerPrompts(serverName) {
			exposed := ExposedName(serverName, prompt.Name)
			published := prompt
			published.Name = exposed
			if !a.promptManager.upsert(exposed, fingerprint(published)) {
				continue
			}
			promptsToAdd = append(promptsToAdd, server.ServerPrompt{
				Prompt:  published,
				Handler: promptHandlerFactory(a, exposed),
			})
		}

		for _, resource := range a.provider.ServerResources(serverName) {
			if collected.resourceRoutes[resource.URI] != serverName {
				continue
			}
			if !a.resourceManager.upsert(resource.URI, fingerprint(resource)) {
				continue
			}
			resourcesToAdd = append(resourcesToAdd, server.ServerResource{
				Resource: resource,
				Handler:  resourceHandlerFactory(a, resource.URI),
			})
		}
	}

	if len(toolsToAdd) > 0 {
		logging.Debug("Aggregator", "Adding %d tools in batch", len(toolsToAdd))
		a.server.AddTools(toolsToAdd...)
	}
	if len(promptsToAdd) > 0 {
		logging.Debug("Aggregator", "Adding %d prompts in batch", len(promptsToAdd))
		a.server.AddPrompts(promptsToAdd...)
	}
	if len(resourcesToAdd) > 0 {
		logging.Debug("Aggregator", "Adding %d resources in batch", len(resourcesToAdd))
		a.server.AddResources(resourcesToAdd...)
	}
}

// routeForResource returns the backend server that owns a resource URI.
func (a *Server) routeForResource(uri string) (string, bool) {
	a.routeMu.RLock()
	defer a.routeMu.RUnlock()
	serverName, ok := a.resourceRoutes[uri]
	return serverName, ok
}

// fingerprint serializes an item definition so changed definitions are
// republished under an unchanged identifier.
func fingerprint(item interface{}) string {
	data, err := json.Marshal(item)
	if err != nil {
		return ""
	}
	return string(data)
}
