package hub

import (
	"sync"

	"mcphub/internal/events"
	"mcphub/pkg/logging"
)

// State is the hub lifecycle phase, broadcast as hub_state events and
// replayed to every new SSE subscriber.
type State string

const (
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateRestarting State = "restarting"
	StateRestarted  State = "restarted"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

// stateMachine owns the current hub state and its broadcast. It is
// separate from the connection mutex so state reads never contend with
// reconciliation.
type stateMachine struct {
	bus *events.Bus

	mu    sync.RWMutex
	state State
}

func newStateMachine(bus *events.Bus) *stateMachine {
	return &stateMachine{bus: bus, state: StateStarting}
}

func (s *stateMachine) get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// set transitions to the new state and broadcasts it. Re-announcing the
// current state is a no-op.
func (s *stateMachine) set(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	s.mu.Unlock()

	logging.Info("Hub", "State %s -> %s", prev, state)
	s.bus.Publish(events.TypeHubState, map[string]interface{}{
		"state": string(state),
	})
}

// State returns the current lifecycle phase.
func (h *Hub) State() State {
	return h.states.get()
}

// SetState transitions the hub and broadcasts a hub_state event.
func (h *Hub) SetState(state State) {
	h.states.set(state)
}

// StatePayload is the hub_state event body, also replayed to new SSE
// subscribers.
func (h *Hub) StatePayload() map[string]interface{} {
	return map[string]interface{}{
		"state": string(h.State()),
	}
}
