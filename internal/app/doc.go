// Package app assembles and runs a hub process.
//
// The package is the composition root: it owns construction order,
// start order, and shutdown order for every component, and nothing
// else. Behavior lives in the packages it wires together.
//
// Construction (NewApplication) initializes logging, loads the merged
// server config, and builds the hub, the aggregating MCP endpoint, the
// event bus with its SSE fan-out, the workspace cache, and the HTTP
// management endpoint. Execution (Run) binds the port, registers the
// workspace entry, connects the configured servers, and then blocks
// until a signal arrives, the context is canceled, or the idle timer
// fires. Shutdown walks the same components in reverse so state events
// reach SSE clients before their streams close.
package app
