package mcpserver

import (
	"context"
	"fmt"
	"os"
	"strings"

	"mcphub/internal/config"
	"mcphub/internal/placeholder"
)

// ResolvedConfig is a server config after placeholder expansion, ready to
// hand to a transport client. For stdio servers Env is the complete child
// environment, not a delta over the hub's.
type ResolvedConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
	URL     string
	Headers map[string]string
}

// ResolveConfig expands every placeholder in cfg. The server's own env is
// resolved first and layered over the context, so args, headers and the
// URL can reference it. workspaceFolder seeds the predefined variables.
func ResolveConfig(ctx context.Context, cfg *config.ServerConfig, workspaceFolder string) (*ResolvedConfig, error) {
	resolver := placeholder.New(true)
	rc := placeholder.NewContext(workspaceFolder)

	env, err := resolver.ResolveEnv(ctx, cfg.Env, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve env: %w", err)
	}
	rc.SetAll(env)

	args, err := resolver.ResolveArgs(ctx, cfg.Args, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve args: %w", err)
	}

	headers, err := resolver.ResolveHeaders(ctx, cfg.Headers, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve headers: %w", err)
	}

	url, err := resolver.ResolveString(ctx, cfg.URL, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve url: %w", err)
	}

	command, err := resolver.ResolveString(ctx, cfg.Command, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve command: %w", err)
	}

	cwd, err := resolver.ResolveString(ctx, cfg.Cwd, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cwd: %w", err)
	}

	resolved := &ResolvedConfig{
		Command: command,
		Args:    args,
		Cwd:     cwd,
		URL:     url,
		Headers: headers,
	}
	if cfg.IsStdio() {
		resolved.Env = spawnEnv(env)
	}
	return resolved, nil
}

// spawnEnv builds the child environment: the hub's process environment,
// then MCP_HUB_ENV, then the server's resolved env. Predefined placeholder
// variables are context-only and never leak into the child.
func spawnEnv(serverEnv map[string]string) map[string]string {
	env := make(map[string]string, len(serverEnv)+32)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	for key, value := range placeholder.HubEnv() {
		env[key] = value
	}
	for key, value := range serverEnv {
		env[key] = value
	}
	return env
}
