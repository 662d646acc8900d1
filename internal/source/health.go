package source

import (
	"sync"
	"time"
)

// HealthState is a point-in-time snapshot of stream liveness.
type HealthState struct {
	Connected         bool      `json:"connected"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastMessage       time.Time `json:"last_message"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

// HealthMonitor tracks liveness of the stream source. Writers call
// RecordMessage/RecordError/SetConnected; ShouldFallback is a pure function
// over a snapshot of the state and never mutates it.
type HealthMonitor struct {
	mu              sync.Mutex
	state           HealthState
	fallbackTimeout time.Duration
}

// NewHealthMonitor creates a monitor with the given stream-silence timeout
// (default 120s when zero).
func NewHealthMonitor(fallbackTimeout time.Duration) *HealthMonitor {
	if fallbackTimeout <= 0 {
		fallbackTimeout = 120 * time.Second
	}
	return &HealthMonitor{fallbackTimeout: fallbackTimeout}
}

// RecordMessage notes a successfully received stream message and clears the
// consecutive error count.
func (h *HealthMonitor) RecordMessage(now time.Time) {
	h.mu.Lock()
	h.state.LastMessage = now
	h.state.ConsecutiveErrors = 0
	h.mu.Unlock()
}

// RecordError notes a stream receive error.
func (h *HealthMonitor) RecordError() {
	h.mu.Lock()
	h.state.ConsecutiveErrors++
	h.mu.Unlock()
}

// SetConnected records the stream connection status. A transition to
// connected restarts the silence clock: the stale LastMessage from the
// previous connection is cleared so a fresh reconnect is healthy until the
// timeout elapses again.
func (h *HealthMonitor) SetConnected(connected bool, now time.Time) {
	h.mu.Lock()
	if connected && !h.state.Connected {
		h.state.ConnectedAt = now
		h.state.LastMessage = time.Time{}
	}
	h.state.Connected = connected
	h.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (h *HealthMonitor) Snapshot() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ShouldFallback reports whether the gateway must switch to polling: the
// stream is disconnected, or no message has arrived within the timeout.
func (h *HealthMonitor) ShouldFallback(now time.Time) bool {
	return h.Snapshot().ShouldFallback(now, h.fallbackTimeout)
}

// ShouldFallback is the pure form used by both the monitor and tests.
func (s HealthState) ShouldFallback(now time.Time, timeout time.Duration) bool {
	if !s.Connected {
		return true
	}
	// Before any message the silence clock runs from the connect time.
	ref := s.LastMessage
	if ref.IsZero() {
		ref = s.ConnectedAt
	}
	if ref.IsZero() {
		return false
	}
	return now.Sub(ref) >= timeout
}
