package events

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"mcphub/pkg/logging"

	"github.com/google/uuid"
)

// DefaultHeartbeatInterval is how often the periodic heartbeat event is
// published.
const DefaultHeartbeatInterval = 30 * time.Second

// Connection is one active SSE subscriber, as exposed by the health
// endpoint.
type Connection struct {
	ID          string    `json:"id"`
	OpenedAt    time.Time `json:"openedAt"`
	LastEventAt time.Time `json:"lastEventAt"`
}

// SSEManager serves the event stream endpoint. Each HTTP client becomes
// a bus subscriber identified by a fresh connection ID, receives the
// current hub state immediately, then the live stream.
type SSEManager struct {
	bus           *Bus
	stateSnapshot func() map[string]interface{}

	heartbeatInterval time.Duration

	// OnConnectionsChanged runs after every subscribe and disconnect with
	// the new count. Drives workspace accounting and idle shutdown.
	OnConnectionsChanged func(count int)

	mu    sync.Mutex
	conns map[string]*Connection

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSSEManager creates a manager publishing on bus. stateSnapshot
// supplies the hub_state payload replayed to each new subscriber.
func NewSSEManager(bus *Bus, stateSnapshot func() map[string]interface{}) *SSEManager {
	return &SSEManager{
		bus:               bus,
		stateSnapshot:     stateSnapshot,
		heartbeatInterval: DefaultHeartbeatInterval,
		conns:             make(map[string]*Connection),
		stopCh:            make(chan struct{}),
	}
}

// Start launches the periodic heartbeat publisher.
func (m *SSEManager) Start() {
	go m.heartbeatLoop()
}

// Stop halts the heartbeat and unblocks all connected clients.
func (m *SSEManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *SSEManager) heartbeatLoop() {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.publishHeartbeat()
		}
	}
}

func (m *SSEManager) publishHeartbeat() {
	m.bus.Publish(TypeHeartbeat, map[string]interface{}{
		"connections": m.ConnectionCount(),
	})
}

// ServeHTTP implements GET /api/events.
func (m *SSEManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	id := uuid.New().String()
	ch := m.bus.Subscribe(id)
	m.addConn(id)
	defer func() {
		m.bus.Unsubscribe(id)
		m.removeConn(id)
	}()

	// Late subscribers learn where the hub stands without waiting for
	// the next transition.
	state := NewEvent(TypeHubState, m.stateSnapshot())
	if frame, err := state.SSE(); err == nil {
		fmt.Fprint(w, frame)
		flusher.Flush()
		m.touch(id)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			frame, err := ev.SSE()
			if err != nil {
				logging.Warn("Events", "Skipping %s event: %v", ev.Type, err)
				continue
			}
			fmt.Fprint(w, frame)
			flusher.Flush()
			m.touch(id)
		}
	}
}

// ConnectionCount returns the number of connected SSE clients.
func (m *SSEManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Connections returns a snapshot of the connected clients, oldest first.
func (m *SSEManager) Connections() []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (m *SSEManager) addConn(id string) {
	m.mu.Lock()
	now := time.Now().UTC()
	m.conns[id] = &Connection{ID: id, OpenedAt: now, LastEventAt: now}
	count := len(m.conns)
	m.mu.Unlock()

	logging.Debug("Events", "SSE client %s connected (%d active)", id, count)
	m.notifyChanged(count)
}

func (m *SSEManager) removeConn(id string) {
	m.mu.Lock()
	delete(m.conns, id)
	count := len(m.conns)
	m.mu.Unlock()

	logging.Debug("Events", "SSE client %s disconnected (%d active)", id, count)
	m.notifyChanged(count)

	// Remaining subscribers hear the new count right away.
	m.publishHeartbeat()
}

func (m *SSEManager) notifyChanged(count int) {
	if m.OnConnectionsChanged != nil {
		m.OnConnectionsChanged(count)
	}
}

func (m *SSEManager) touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.LastEventAt = time.Now().UTC()
	}
}
