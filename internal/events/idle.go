package events

import (
	"sync"
	"time"

	"mcphub/pkg/logging"
)

// IdleShutdown triggers a graceful hub shutdown after the SSE connection
// count has stayed at zero for the configured delay. A new subscription
// cancels the countdown.
type IdleShutdown struct {
	delay   time.Duration
	trigger func()

	// OnArm and OnCancel run on countdown transitions, for workspace
	// cache bookkeeping.
	OnArm    func(delay time.Duration)
	OnCancel func()

	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

// NewIdleShutdown creates a monitor that calls trigger once the countdown
// elapses.
func NewIdleShutdown(delay time.Duration, trigger func()) *IdleShutdown {
	return &IdleShutdown{delay: delay, trigger: trigger}
}

// ConnectionsChanged arms the countdown at zero connections and cancels
// it otherwise.
func (s *IdleShutdown) ConnectionsChanged(count int) {
	if count == 0 {
		s.Arm()
	} else {
		s.Cancel()
	}
}

// Arm starts the countdown unless it is already running.
func (s *IdleShutdown) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed {
		return
	}
	s.armed = true
	logging.Info("Events", "No SSE clients connected, shutting down in %s", s.delay)
	if s.OnArm != nil {
		s.OnArm(s.delay)
	}
	s.timer = time.AfterFunc(s.delay, s.trigger)
}

// Cancel stops a running countdown. If the timer already fired, the
// shutdown is underway and the cancel callbacks are skipped.
func (s *IdleShutdown) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed {
		return
	}
	stopped := s.timer.Stop()
	s.armed = false
	s.timer = nil

	if stopped {
		logging.Info("Events", "SSE client connected, shutdown canceled")
		if s.OnCancel != nil {
			s.OnCancel()
		}
	}
}

// Stop silently disarms the countdown without callbacks, for hub
// shutdown.
func (s *IdleShutdown) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
}
