// Package mcpserver manages the connection to a single upstream MCP
// server: transport selection (stdio, streamable-HTTP, SSE with
// fallback), placeholder resolution of the spawn config, the MCP
// handshake, capability caching, list-changed notifications, OAuth 401
// detection, and dev-mode file watching for hot restarts.
//
// A Connection is a small state machine owned by the hub coordinator:
//
//	disconnected -> connecting -> connected
//	                     |            |
//	                     v            v
//	               unauthorized  disconnected
//
// together with a disabled state entered only through configuration.
// Connect attempts report a ConnectOutcome value instead of a bare
// error so the coordinator can apply configuration deltas in parallel
// and settle every server independently.
package mcpserver
