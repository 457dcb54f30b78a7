package mcpserver

// ChangeKind identifies which capability list a server reported as changed.
type ChangeKind string

const (
	ChangeTools     ChangeKind = "tools"
	ChangeResources ChangeKind = "resources"
	ChangePrompts   ChangeKind = "prompts"
)

// ChangeEvent is sent on the coordinator channel after a list_changed
// notification was received and the corresponding list re-fetched. The
// cached capabilities are already updated when the event is delivered.
type ChangeEvent struct {
	Server string
	Kind   ChangeKind
}
