// Package aggregator publishes the capabilities of every connected
// backend MCP server on one streamable-HTTP endpoint.
//
// Tools and prompts are exposed under namespaced identifiers of the form
//
//	<server>__<name>
//
// so that equal names on different servers never collide; the separator
// is reserved in server names, which makes resolution back to the owning
// server unambiguous. Resources keep their original URIs and are routed
// through a URI-to-server table; when two servers publish the same URI
// the first server in name order wins and the duplicate is logged.
//
// The published set is maintained by a diff cycle: collect the current
// capability caches, remove identifiers that disappeared, add or
// overwrite identifiers that are new or whose definition changed. Cycles
// run on a single goroutine woken by Refresh, which collapses bursts of
// capability-change signals into one recomputation. Additions and
// removals go through the MCP server's batch APIs, so downstream clients
// receive list-changed notifications automatically.
package aggregator
