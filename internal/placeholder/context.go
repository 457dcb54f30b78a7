package placeholder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// HubEnvVar names the environment variable holding a JSON object that is
// injected into every spawned server's environment and made available for
// placeholder resolution.
const HubEnvVar = "MCP_HUB_ENV"

// HubEnv parses the MCP_HUB_ENV environment variable. A missing or
// malformed value yields an empty map; the hub never fails startup on it.
func HubEnv() map[string]string {
	raw := os.Getenv(HubEnvVar)
	if raw == "" {
		return nil
	}
	var env map[string]string
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil
	}
	return env
}

// Context carries the values placeholders resolve against. Priority is
// last-write-wins: predefined variables, then the process environment,
// then MCP_HUB_ENV, then any server-specific values added with Set.
type Context struct {
	values map[string]string
}

// NewContext builds the resolution context for one server connect.
// workspaceFolder is the hub's working directory.
func NewContext(workspaceFolder string) *Context {
	c := &Context{values: make(map[string]string)}

	home, _ := os.UserHomeDir()
	sep := string(os.PathSeparator)
	c.values["workspaceFolder"] = workspaceFolder
	c.values["workspaceFolderBasename"] = filepath.Base(workspaceFolder)
	c.values["userHome"] = home
	c.values["pathSeparator"] = sep
	c.values["/"] = sep
	c.values["cwd"] = workspaceFolder

	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			c.values[key] = value
		}
	}

	for key, value := range HubEnv() {
		c.values[key] = value
	}

	return c
}

// Set adds or overrides a single value. Used to layer the server's own
// resolved env over the base context before args and headers are resolved.
func (c *Context) Set(name, value string) {
	c.values[name] = value
}

// SetAll layers a whole mapping over the context.
func (c *Context) SetAll(values map[string]string) {
	for key, value := range values {
		c.values[key] = value
	}
}

// Lookup returns the value for a placeholder name.
func (c *Context) Lookup(name string) (string, bool) {
	value, ok := c.values[name]
	return value, ok
}
