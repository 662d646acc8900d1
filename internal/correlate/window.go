// Package correlate holds the time-windowed event matchers that detect
// multi-event patterns: position rolls and synthetic hedges.
package correlate

import (
	"sync"
	"time"

	"github.com/flowsentry/flowsentry/internal/models"
)

// WindowConfig bounds a correlation window by age and size.
type WindowConfig struct {
	MaxAge  time.Duration
	MaxSize int
}

func (c *WindowConfig) defaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = 60 * time.Second
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 256
	}
}

// Window is a time-bounded buffer of recent events for one partition key.
// Every insertion evicts entries past the age horizon, so the window can
// never grow unboundedly.
type Window struct {
	cfg     WindowConfig
	entries []models.EnrichedEvent
}

// Add appends an event and evicts entries older than the horizon or beyond
// the size bound, oldest first.
func (w *Window) Add(ev models.EnrichedEvent, now time.Time) {
	w.entries = append(w.entries, ev)

	horizon := now.Add(-w.cfg.MaxAge)
	firstLive := 0
	for firstLive < len(w.entries) && w.entries[firstLive].Timestamp.Before(horizon) {
		firstLive++
	}
	if over := len(w.entries) - firstLive - w.cfg.MaxSize; over > 0 {
		firstLive += over
	}
	if firstLive > 0 {
		w.entries = append(w.entries[:0], w.entries[firstLive:]...)
	}
}

// Len reports the current number of buffered entries.
func (w *Window) Len() int { return len(w.entries) }

// NewestMatch scans newest-first for the most recent event strictly before
// the trigger's timestamp, within maxGap of it, satisfying pred.
func (w *Window) NewestMatch(trigger models.EnrichedEvent, maxGap time.Duration, pred func(models.EnrichedEvent) bool) (models.EnrichedEvent, bool) {
	earliest := trigger.Timestamp.Add(-maxGap)
	for i := len(w.entries) - 1; i >= 0; i-- {
		cand := w.entries[i]
		if !cand.Timestamp.Before(trigger.Timestamp) {
			continue // same instant or later; out-of-order delivery is tolerated
		}
		if cand.Timestamp.Before(earliest) {
			break
		}
		if pred(cand) {
			return cand, true
		}
	}
	return models.EnrichedEvent{}, false
}

// keyedWindows partitions windows by key with one lock per key so that
// independent symbols never contend and insert-then-scan is atomic within
// a key.
type keyedWindows struct {
	cfg WindowConfig

	mu      sync.Mutex
	windows map[string]*lockedWindow
}

type lockedWindow struct {
	mu sync.Mutex
	w  Window
}

func newKeyedWindows(cfg WindowConfig) *keyedWindows {
	cfg.defaults()
	return &keyedWindows{cfg: cfg, windows: make(map[string]*lockedWindow)}
}

// withWindow runs fn holding the per-key lock.
func (k *keyedWindows) withWindow(key string, fn func(*Window)) {
	k.mu.Lock()
	lw, ok := k.windows[key]
	if !ok {
		lw = &lockedWindow{w: Window{cfg: k.cfg}}
		k.windows[key] = lw
	}
	k.mu.Unlock()

	lw.mu.Lock()
	fn(&lw.w)
	lw.mu.Unlock()
}

// totalEntries sums buffered entries across keys (metrics only).
func (k *keyedWindows) totalEntries() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	total := 0
	for _, lw := range k.windows {
		lw.mu.Lock()
		total += lw.w.Len()
		lw.mu.Unlock()
	}
	return total
}
