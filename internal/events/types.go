package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a hub event on the SSE stream.
type Type string

const (
	// TypeHeartbeat is emitted periodically and carries the current SSE
	// connection count.
	TypeHeartbeat Type = "heartbeat"

	// TypeHubState is emitted on every hub state transition, and once to
	// each client on subscribe.
	TypeHubState Type = "hub_state"

	// TypeLog carries structured log entries.
	TypeLog Type = "log"

	// TypeConfigChanged is emitted when a config file change is detected,
	// significant or not.
	TypeConfigChanged Type = "config_changed"

	// TypeServersUpdating and TypeServersUpdated straddle a
	// reconciliation; both carry the config delta.
	TypeServersUpdating Type = "servers_updating"
	TypeServersUpdated  Type = "servers_updated"

	// Capability change events, emitted after a per-server notification
	// was received and the list re-fetched.
	TypeToolListChanged     Type = "tool_list_changed"
	TypeResourceListChanged Type = "resource_list_changed"
	TypePromptListChanged   Type = "prompt_list_changed"

	// TypeWorkspacesUpdated is emitted when the cross-process workspace
	// cache file changes.
	TypeWorkspacesUpdated Type = "workspaces_updated"
)

// Event is one message on the bus. Data keys are merged into the wire
// payload next to the timestamp.
type Event struct {
	Type      Type
	Timestamp time.Time
	Data      map[string]interface{}
}

// NewEvent stamps an event with the current time.
func NewEvent(t Type, data map[string]interface{}) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// payload returns the JSON wire object: the data keys plus a timestamp.
func (e Event) payload() ([]byte, error) {
	obj := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		obj[k] = v
	}
	obj["timestamp"] = e.Timestamp.Format(time.RFC3339)
	return json.Marshal(obj)
}

// SSE formats the event as a Server-Sent Events frame.
func (e Event) SSE() (string, error) {
	data, err := e.payload()
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data), nil
}
