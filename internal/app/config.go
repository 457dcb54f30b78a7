package app

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config carries the command-line settings for one hub process.
type Config struct {
	// Port is the HTTP listen port. Required and fixed for the process
	// lifetime; the workspace cache keys entries by it.
	Port int

	// ConfigPaths are the MCP server config files in merge order. Later
	// files override earlier ones server by server.
	ConfigPaths []string

	// Watch enables config file monitoring with automatic
	// reconciliation on change.
	Watch bool

	// AutoShutdown stops the hub once no SSE client has been connected
	// for ShutdownDelay.
	AutoShutdown  bool
	ShutdownDelay time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Version is stamped by the build and reported on /api/health.
	Version string
}

// normalize validates the flag values and absolutizes the config paths
// so workspace cache entries identify the same files regardless of the
// launch directory.
func (c *Config) normalize() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.ConfigPaths) == 0 {
		return fmt.Errorf("at least one config file is required")
	}
	for i, p := range c.ConfigPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolving config path %q: %w", p, err)
		}
		c.ConfigPaths[i] = abs
	}
	return nil
}
