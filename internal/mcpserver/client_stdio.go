package mcpserver

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"time"

	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultStdioInitTimeout bounds the handshake when the caller supplied no
// deadline. It covers process start plus the initialize round trip.
const defaultStdioInitTimeout = 30 * time.Second

// StdioClient runs an upstream server as a local child process and talks
// JSON-RPC over its stdin/stdout. The child's stderr is drained in the
// background and logged at warn level under the server's name.
type StdioClient struct {
	baseMCPClient
	serverName string
	command    string
	args       []string
	env        map[string]string
	cwd        string
}

// NewStdioClient creates a stdio client from an already resolved config.
// env is the complete child environment, not a delta.
func NewStdioClient(serverName string, resolved *ResolvedConfig) *StdioClient {
	return &StdioClient{
		serverName: serverName,
		command:    resolved.Command,
		args:       resolved.Args,
		env:        resolved.Env,
		cwd:        resolved.Cwd,
	}
}

// Initialize spawns the child process and performs the MCP handshake.
func (c *StdioClient) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil, fmt.Errorf("client already connected")
	}

	logging.Debug("StdioClient", "Spawning %s: %s %v", c.serverName, c.command, c.args)

	envStrings := make([]string, 0, len(c.env))
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	var mcpClient *client.Client
	var err error
	if c.cwd != "" {
		// The stock constructor spawns in the hub's working directory;
		// a command factory is the only way to set the child's cwd. The
		// factory closes over the resolved config rather than using the
		// callback arguments.
		mcpClient, err = client.NewStdioMCPClientWithOptions(c.command, envStrings, c.args,
			transport.WithCommandFunc(func(ctx context.Context, _ string, _ []string, _ []string) (*exec.Cmd, error) {
				cmd := exec.CommandContext(ctx, c.command, c.args...)
				cmd.Env = envStrings
				cmd.Dir = c.cwd
				return cmd, nil
			}))
	} else {
		mcpClient, err = client.NewStdioMCPClient(c.command, envStrings, c.args...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio client: %w", err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, defaultStdioInitTimeout)
		defer cancel()
	}

	result, err := mcpClient.Initialize(initCtx, newInitializeRequest())
	if err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioClient", "Error closing failed client for %s: %v", c.serverName, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	c.pumpStderr(mcpClient)

	logging.Debug("StdioClient", "Connected %s (server: %s %s)",
		c.serverName, result.ServerInfo.Name, result.ServerInfo.Version)
	return result, nil
}

// pumpStderr forwards the child's stderr lines to the log. The goroutine
// exits when the pipe closes with the process.
func (c *StdioClient) pumpStderr(mcpClient *client.Client) {
	stderr, ok := client.GetStderr(mcpClient)
	if !ok || stderr == nil {
		return
	}

	name := c.serverName
	go func() {
		scanner := bufio.NewScanner(stderr)
		// Some servers dump whole stack traces in one write.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			logging.Warn("StdioClient", "[%s stderr] %s", name, line)
		}
	}()
}

// Close terminates the child process.
func (c *StdioClient) Close() error {
	return c.closeClient()
}

func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

func (c *StdioClient) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

func (c *StdioClient) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return c.listResources(ctx)
}

func (c *StdioClient) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	return c.listResourceTemplates(ctx)
}

func (c *StdioClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return c.readResource(ctx, uri)
}

func (c *StdioClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return c.listPrompts(ctx)
}

func (c *StdioClient) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return c.getPrompt(ctx, name, args)
}

func (c *StdioClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}
