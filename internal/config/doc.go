// Package config loads and watches the hub's MCP server definitions.
//
// Configuration comes from an ordered list of files passed on the command
// line. Each file is a JSON object (comments and trailing commas are
// tolerated) or a YAML document with a root "mcpServers" mapping; the
// alias "servers" is accepted when "mcpServers" is absent. Files later in
// the list override earlier definitions per server name, and every merged
// entry is tagged with the file it came from so API responses can report
// their origin. Missing files are skipped so a workspace file can be
// listed before it exists.
//
// # Server Definitions
//
// A server entry is either a local stdio process (command, args, env, cwd)
// or a remote endpoint (url, headers). The two forms are mutually
// exclusive and validated at load time, along with the dev-mode rules and
// the ban on "__" in server names, which the aggregator reserves for
// namespacing capabilities.
//
// # Reload
//
// Watcher monitors the parent directories of the config file list and
// reports changes after a debounce interval. Diff compares two loaded
// configs into added, removed, modified, and unchanged server sets; the
// hub only reconciles connections when the delta is significant.
package config
