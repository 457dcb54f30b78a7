// Package logging provides a structured logging system for the hub with
// unified log handling and flexible output formatting.
//
// This package implements a logging system built on Go's standard slog
// package, providing consistent logging behavior with structured output and
// level filtering.
//
// # Architecture
//
// The logging system is built around these core concepts:
//
// ## Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// ## Structured Logging
// All log entries include:
//   - Timestamp with nanosecond precision
//   - Log level (Debug, Info, Warn, Error)
//   - Subsystem identifier for categorization
//   - Message content with optional formatting
//   - Optional error information
//
// # Usage Examples
//
// ## Initialization
//
//	import "mcphub/pkg/logging"
//
//	// Initialize with Info level logging to stdout
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	// Hub mode: console plus a size-rotated log file
//	logging.InitForHub(logging.LevelInfo, os.Stdout, logPath)
//
//	// Log messages
//	logging.Info("Bootstrap", "Hub starting up")
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Warn("Connection", "Server dependency not available")
//	logging.Error("Workspace", err, "Failed to write workspace cache")
//
// ## Log Event Subscription
//
// Components that re-broadcast log entries (the SSE event bus) can subscribe:
//
//	ch := logging.Subscribe()
//	defer logging.Unsubscribe(ch)
//	for entry := range ch { ... }
//
// Delivery to subscribers is non-blocking; entries are dropped when a
// subscriber falls behind.
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Bootstrap**: Application initialization and startup
//   - **Config**: Configuration loading, merging and watching
//   - **Hub**: Coordinator lifecycle and delta application
//   - **Connection**: Per-server transport and capability handling
//   - **Aggregator**: Unified MCP endpoint management
//   - **Events**: SSE fan-out and idle shutdown
//   - **Workspace**: Cross-process workspace cache
//   - **OAuth**: Authorization flows against upstream servers
//   - **API**: Management HTTP surface
//
// # Thread Safety
//
// The logging system is fully thread-safe: safe concurrent logging from
// multiple goroutines, protected access to shared state, no data races in
// configuration.
//
// Logging is the only package-level singleton in the hub; every other
// component is a value owned by the application.
package logging
