// Package events carries the hub's event stream: a non-blocking fan-out
// bus, the SSE endpoint that exposes it to clients, the idle
// auto-shutdown countdown driven by the SSE connection count, and the
// bridge that turns structured log entries into log events.
//
// Every event reaches the wire as
//
//	event: <type>
//	data: {"...payload...","timestamp":"2006-01-02T15:04:05Z"}
//
// with the timestamp stamped at publish time. Publishing never blocks:
// a subscriber that cannot drain its buffer loses events, which for a
// live status stream beats stalling the hub.
package events
