// Package voldelta synthesizes trade-volume deltas by diffing successive
// option-chain snapshots per symbol. It backs the polling fallback source.
package voldelta

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/provider"
)

// Delta is one contract whose session volume grew between two snapshots.
type Delta struct {
	ContractID  string
	DeltaVolume int64
	LastPrice   float64
	Premium     float64 // delta volume * last price * 100
	Velocity    float64 // contracts per minute since the previous scan
	Intensity   models.Intensity
}

type snapshot struct {
	volumes map[string]int64
	takenAt time.Time
}

// Tracker caches the previous chain snapshot per symbol. Snapshots older
// than the TTL are treated as absent so a stale baseline never produces a
// spuriously huge delta.
type Tracker struct {
	mu       sync.Mutex
	prev     map[string]*snapshot
	ttl      time.Duration
	minDelta int64
	logger   zerolog.Logger
}

// New constructs a Tracker. minDelta is the smallest volume increase that
// yields a Delta; ttl bounds how old a baseline snapshot may be.
func New(ttl time.Duration, minDelta int64, logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	if minDelta <= 0 {
		minDelta = 1
	}
	return &Tracker{
		prev:     make(map[string]*snapshot),
		ttl:      ttl,
		minDelta: minDelta,
		logger:   logger.With().Str("component", "voldelta").Logger(),
	}
}

// Diff records the given chain snapshot for symbol and returns the volume
// deltas against the previously cached snapshot. The first snapshot for a
// symbol (or one whose baseline expired) establishes the baseline and
// returns nothing.
func (t *Tracker) Diff(symbol string, contracts []provider.ChainContract, now time.Time) []Delta {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := &snapshot{volumes: make(map[string]int64, len(contracts)), takenAt: now}
	for _, c := range contracts {
		next.volumes[c.ContractID] = c.DayVolume
	}

	base, ok := t.prev[symbol]
	t.prev[symbol] = next
	if !ok || now.Sub(base.takenAt) > t.ttl {
		return nil
	}

	elapsed := now.Sub(base.takenAt).Minutes()
	if elapsed <= 0 {
		elapsed = 1.0 / 60 // sub-second rescans count as one second
	}

	var deltas []Delta
	for _, c := range contracts {
		d := c.DayVolume - base.volumes[c.ContractID]
		if d < t.minDelta {
			continue
		}
		velocity := float64(d) / elapsed
		deltas = append(deltas, Delta{
			ContractID:  c.ContractID,
			DeltaVolume: d,
			LastPrice:   c.LastPrice,
			Premium:     float64(d) * c.LastPrice * 100,
			Velocity:    velocity,
			Intensity:   models.ClassifyIntensity(velocity),
		})
	}
	return deltas
}

// Sweep drops cached snapshots older than the TTL and returns how many were
// removed. Intended to run periodically from the poll source.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for symbol, snap := range t.prev {
		if now.Sub(snap.takenAt) > t.ttl {
			delete(t.prev, symbol)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Debug().Int("removed", removed).Msg("swept stale snapshots")
	}
	return removed
}

// Len reports how many symbols currently have a cached baseline.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prev)
}
