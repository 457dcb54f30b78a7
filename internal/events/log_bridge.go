package events

import (
	"mcphub/pkg/logging"
)

// LogBridge republishes structured log entries onto the bus as log
// events, feeding the SSE stream.
type LogBridge struct {
	bus  *Bus
	ch   chan logging.LogEntry
	done chan struct{}
}

// NewLogBridge creates a bridge publishing onto bus.
func NewLogBridge(bus *Bus) *LogBridge {
	return &LogBridge{bus: bus}
}

// Start subscribes to the logging facade and begins forwarding.
func (lb *LogBridge) Start() {
	lb.ch = logging.Subscribe()
	lb.done = make(chan struct{})

	go func() {
		defer close(lb.done)
		for entry := range lb.ch {
			data := map[string]interface{}{
				"level":     entry.Level.String(),
				"subsystem": entry.Subsystem,
				"message":   entry.Message,
			}
			if entry.Err != nil {
				data["error"] = entry.Err.Error()
			}
			lb.bus.Publish(TypeLog, data)
		}
	}()
}

// Stop unsubscribes and waits for the forwarder to drain.
func (lb *LogBridge) Stop() {
	if lb.ch == nil {
		return
	}
	logging.Unsubscribe(lb.ch)
	<-lb.done
	lb.ch = nil
}
