package aggregator

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolHandlerFactory creates the handler for a namespaced tool. The
// handler resolves the owning server at call time and forwards the
// request with the original tool name.
func toolHandlerFactory(a *Server, exposedName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !a.toolManager.isActive(exposedName) {
			return nil, fmt.Errorf("tool %s is no longer available", exposedName)
		}

		serverName, originalName, err := SplitExposedName(exposedName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tool name: %w", err)
		}

		return a.provider.CallTool(ctx, serverName, originalName, req.Params.Arguments)
	}
}

// promptHandlerFactory creates the handler for a namespaced prompt.
func promptHandlerFactory(a *Server, exposedName string) server.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		if !a.promptManager.isActive(exposedName) {
			return nil, fmt.Errorf("prompt %s is no longer available", exposedName)
		}

		serverName, originalName, err := SplitExposedName(exposedName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve prompt name: %w", err)
		}

		args := make(map[string]interface{}, len(req.Params.Arguments))
		for k, v := range req.Params.Arguments {
			args[k] = v
		}

		return a.provider.GetPrompt(ctx, serverName, originalName, args)
	}
}

// resourceHandlerFactory creates the handler for a resource. Resources
// keep their original URIs; the owning server comes from the route table.
func resourceHandlerFactory(a *Server, uri string) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if !a.resourceManager.isActive(uri) {
			return nil, fmt.Errorf("resource %s is no longer available", uri)
		}

		serverName, ok := a.routeForResource(uri)
		if !ok {
			return nil, fmt.Errorf("resource %s is not provided by any server", uri)
		}

		result, err := a.provider.ReadResource(ctx, serverName, uri)
		if err != nil {
			return nil, err
		}

		var contents []mcp.ResourceContents
		if result != nil && len(result.Contents) > 0 {
			contents = result.Contents
		}
		return contents, nil
	}
}
