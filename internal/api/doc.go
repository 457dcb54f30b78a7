// Package api serves the management surface of the hub on one listener:
// the REST routes under /api, the OAuth callback pair, the SSE event
// stream at /api/events, and the unified MCP endpoint mounted at /mcp.
//
// Success responses are JSON objects with a timestamp; failures use the
// {code, message, data, timestamp} envelope produced by the hub's typed
// errors, with 400 for validation, 404 for unknown names, 503 for known
// but unconnected servers and 500 otherwise. Routes that only inspect
// state run behind a request timeout; routes that spawn or call backend
// servers do not, because a first connect may legitimately take minutes.
package api
