package config

import (
	"reflect"
	"sort"
)

const (
	// MCPTransportStreamableHTTP is the streamable HTTP transport.
	MCPTransportStreamableHTTP = "streamable-http"
	// MCPTransportSSE is the Server-Sent Events transport.
	MCPTransportSSE = "sse"
	// MCPTransportStdio is the standard I/O transport.
	MCPTransportStdio = "stdio"
)

// NamespaceSeparator joins server and capability names in the unified
// endpoint. Server names must not contain it.
const NamespaceSeparator = "__"

// Config is the merged view over the ordered config file list.
type Config struct {
	// Servers maps server name to its merged definition.
	Servers map[string]*ServerConfig

	// Extra holds top-level keys other than the server mapping; each is
	// fully replaced by the last file containing it.
	Extra map[string]interface{}

	// Paths is the ordered file list this config was merged from.
	Paths []string
}

// ServerConfig is the declarative description of one upstream MCP server.
// The presence of Command (local child process) versus URL (remote)
// discriminates the transport family.
type ServerConfig struct {
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Command     string             `json:"command,omitempty"`
	Args        []string           `json:"args,omitempty"`
	Env         map[string]*string `json:"env,omitempty"`
	Cwd         string             `json:"cwd,omitempty"`
	URL         string             `json:"url,omitempty"`
	Headers     map[string]string  `json:"headers,omitempty"`
	Disabled    bool               `json:"disabled,omitempty"`
	Dev         *DevConfig         `json:"dev,omitempty"`

	// ConfigSource is the path of the file that defined this entry after
	// merging. Set by the loader, not by config files.
	ConfigSource string `json:"config_source,omitempty"`
}

// DevConfig enables hot-restart for stdio servers: files matching the
// watch globs under Cwd trigger a connection restart.
type DevConfig struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Watch   []string `json:"watch,omitempty"`
	Cwd     string   `json:"cwd"`
}

// DevEnabled reports whether dev mode is on. A dev block without an
// explicit enabled flag counts as enabled.
func (s *ServerConfig) DevEnabled() bool {
	if s.Dev == nil {
		return false
	}
	return s.Dev.Enabled == nil || *s.Dev.Enabled
}

// IsStdio reports whether this server runs as a local child process.
func (s *ServerConfig) IsStdio() bool {
	return s.Command != ""
}

// TransportType returns the configured transport family. Remote servers
// report streamable-http as the preferred transport; the negotiated
// transport after SSE fallback lives on the connection, not here.
func (s *ServerConfig) TransportType() string {
	if s.IsStdio() {
		return MCPTransportStdio
	}
	return MCPTransportStreamableHTTP
}

// DisplayName returns the optional display name, falling back to the key.
func (s *ServerConfig) DisplayName(key string) string {
	if s.Name != "" {
		return s.Name
	}
	return key
}

// Equal compares two server entries by deep equality of their content.
// The config_source tag is excluded so that moving an identical definition
// between files does not count as a modification.
func (s *ServerConfig) Equal(other *ServerConfig) bool {
	if s == nil || other == nil {
		return s == other
	}
	a := *s
	b := *other
	a.ConfigSource = ""
	b.ConfigSource = ""
	return reflect.DeepEqual(a, b)
}

// Clone returns a deep copy. Connections hold their own copy so config
// reloads never mutate state under a live connection.
func (s *ServerConfig) Clone() *ServerConfig {
	if s == nil {
		return nil
	}
	out := *s
	if s.Args != nil {
		out.Args = append([]string(nil), s.Args...)
	}
	if s.Env != nil {
		out.Env = make(map[string]*string, len(s.Env))
		for k, v := range s.Env {
			if v == nil {
				out.Env[k] = nil
				continue
			}
			value := *v
			out.Env[k] = &value
		}
	}
	if s.Headers != nil {
		out.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			out.Headers[k] = v
		}
	}
	if s.Dev != nil {
		dev := *s.Dev
		if s.Dev.Enabled != nil {
			enabled := *s.Dev.Enabled
			dev.Enabled = &enabled
		}
		if s.Dev.Watch != nil {
			dev.Watch = append([]string(nil), s.Dev.Watch...)
		}
		out.Dev = &dev
	}
	return &out
}

// Clone returns a deep copy of the merged config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{
		Servers: make(map[string]*ServerConfig, len(c.Servers)),
		Extra:   make(map[string]interface{}, len(c.Extra)),
		Paths:   append([]string(nil), c.Paths...),
	}
	for name, sc := range c.Servers {
		out.Servers[name] = sc.Clone()
	}
	for k, v := range c.Extra {
		out.Extra[k] = v
	}
	return out
}

// ServerNames returns the configured server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
