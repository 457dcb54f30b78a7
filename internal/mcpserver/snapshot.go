package mcpserver

import (
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// ServerInfo is the upstream-reported identity from the handshake.
type ServerInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Snapshot is a point-in-time view of a connection for the management
// API. Capability payloads are the typed mcp-go values and marshal with
// their MCP wire field names.
type Snapshot struct {
	Name             string      `json:"name"`
	DisplayName      string      `json:"display_name,omitempty"`
	Description      string      `json:"description,omitempty"`
	Status           Status      `json:"status"`
	Transport        string      `json:"transport,omitempty"`
	Disabled         bool        `json:"disabled,omitempty"`
	DevMode          bool        `json:"dev_mode,omitempty"`
	LastError        string      `json:"last_error,omitempty"`
	AuthorizationURL string      `json:"authorization_url,omitempty"`
	ServerInfo       *ServerInfo `json:"server_info,omitempty"`
	ConfigSource     string      `json:"config_source,omitempty"`
	StartTime        *time.Time  `json:"start_time,omitempty"`
	LastStarted      *time.Time  `json:"last_started,omitempty"`

	Tools             []mcp.Tool             `json:"tools,omitempty"`
	Resources         []mcp.Resource         `json:"resources,omitempty"`
	ResourceTemplates []mcp.ResourceTemplate `json:"resource_templates,omitempty"`
	Prompts           []mcp.Prompt           `json:"prompts,omitempty"`
}

// Snapshot captures the connection state under one lock acquisition.
func (c *Connection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Name:              c.name,
		DisplayName:       c.cfg.DisplayName(c.name),
		Description:       c.cfg.Description,
		Status:            c.status,
		Transport:         c.transport,
		Disabled:          c.cfg.Disabled,
		DevMode:           c.cfg.DevEnabled(),
		AuthorizationURL:  c.authorizationURL,
		ConfigSource:      c.cfg.ConfigSource,
		Tools:             append([]mcp.Tool(nil), c.tools...),
		Resources:         append([]mcp.Resource(nil), c.resources...),
		ResourceTemplates: append([]mcp.ResourceTemplate(nil), c.resourceTemplates...),
		Prompts:           append([]mcp.Prompt(nil), c.prompts...),
	}
	if c.serverInfo.Name != "" || c.serverInfo.Version != "" {
		snap.ServerInfo = &ServerInfo{
			Name:    c.serverInfo.Name,
			Version: c.serverInfo.Version,
		}
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	if !c.startTime.IsZero() {
		t := c.startTime
		snap.StartTime = &t
	}
	if !c.lastStarted.IsZero() {
		t := c.lastStarted
		snap.LastStarted = &t
	}
	return snap
}

// isMethodNotSupported reports whether an error is the server saying it
// does not implement the requested method. Servers answer the optional
// list RPCs with JSON-RPC -32601 or a capability-not-supported message,
// and mcp-go surfaces both as error strings.
func isMethodNotSupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "-32601")
}
