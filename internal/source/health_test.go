package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldFallbackDisconnected(t *testing.T) {
	h := NewHealthMonitor(120 * time.Second)
	// Never connected: always fall back.
	assert.True(t, h.ShouldFallback(time.Now()))
}

func TestShouldFallbackSilence(t *testing.T) {
	timeout := 120 * time.Second
	t0 := time.Now()

	tests := []struct {
		name  string
		state HealthState
		now   time.Time
		want  bool
	}{
		{
			name:  "fresh message",
			state: HealthState{Connected: true, LastMessage: t0},
			now:   t0.Add(30 * time.Second),
			want:  false,
		},
		{
			name:  "silence at timeout boundary",
			state: HealthState{Connected: true, LastMessage: t0},
			now:   t0.Add(timeout),
			want:  true,
		},
		{
			name:  "connected but never messaged, within grace",
			state: HealthState{Connected: true, ConnectedAt: t0},
			now:   t0.Add(60 * time.Second),
			want:  false,
		},
		{
			name:  "connected but never messaged, past grace",
			state: HealthState{Connected: true, ConnectedAt: t0},
			now:   t0.Add(timeout + time.Second),
			want:  true,
		},
		{
			name:  "disconnected overrides recency",
			state: HealthState{Connected: false, LastMessage: t0},
			now:   t0.Add(time.Second),
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.ShouldFallback(tt.now, timeout))
		})
	}
}

func TestReconnectClearsSilence(t *testing.T) {
	timeout := 120 * time.Second
	h := NewHealthMonitor(timeout)
	t0 := time.Now()

	h.SetConnected(true, t0)
	h.RecordMessage(t0)

	// Stream goes quiet past the timeout and drops.
	assert.True(t, h.ShouldFallback(t0.Add(150*time.Second)))
	h.SetConnected(false, t0.Add(150*time.Second))

	// Reconnect with no message yet: the stale LastMessage must not keep
	// the monitor in fallback.
	h.SetConnected(true, t0.Add(160*time.Second))
	snap := h.Snapshot()
	assert.True(t, snap.LastMessage.IsZero())
	assert.False(t, h.ShouldFallback(t0.Add(161*time.Second)))

	// The silence clock now runs from the reconnect time.
	assert.True(t, h.ShouldFallback(t0.Add(160*time.Second).Add(timeout)))
}

func TestHealthTransitions(t *testing.T) {
	h := NewHealthMonitor(120 * time.Second)
	t0 := time.Now()

	h.SetConnected(true, t0)
	assert.Equal(t, t0, h.Snapshot().ConnectedAt)

	// Re-asserting connected must not restart the silence clock.
	h.SetConnected(true, t0.Add(time.Minute))
	assert.Equal(t, t0, h.Snapshot().ConnectedAt)

	h.RecordError()
	h.RecordError()
	assert.Equal(t, 2, h.Snapshot().ConsecutiveErrors)

	h.RecordMessage(t0.Add(time.Second))
	snap := h.Snapshot()
	assert.Zero(t, snap.ConsecutiveErrors)
	assert.Equal(t, t0.Add(time.Second), snap.LastMessage)

	// Reconnect after a drop stamps a fresh connect time.
	h.SetConnected(false, t0.Add(2*time.Minute))
	h.SetConnected(true, t0.Add(3*time.Minute))
	assert.Equal(t, t0.Add(3*time.Minute), h.Snapshot().ConnectedAt)
}
