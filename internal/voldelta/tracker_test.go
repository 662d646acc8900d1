package voldelta

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/provider"
)

func chain(vols map[string]int64, price float64) []provider.ChainContract {
	out := make([]provider.ChainContract, 0, len(vols))
	for id, v := range vols {
		out = append(out, provider.ChainContract{ContractID: id, DayVolume: v, LastPrice: price})
	}
	return out
}

func TestDiffFirstSnapshotIsBaseline(t *testing.T) {
	tr := New(120*time.Second, 5, zerolog.Nop())
	now := time.Now()

	deltas := tr.Diff("AAPL", chain(map[string]int64{"AAPL240119C00190000": 1000}, 2.5), now)
	assert.Nil(t, deltas)
	assert.Equal(t, 1, tr.Len())
}

func TestDiffComputesPremiumAndVelocity(t *testing.T) {
	tr := New(120*time.Second, 5, zerolog.Nop())
	t0 := time.Now()

	tr.Diff("AAPL", chain(map[string]int64{"AAPL240119C00190000": 1000}, 2.5), t0)
	deltas := tr.Diff("AAPL", chain(map[string]int64{"AAPL240119C00190000": 1030}, 2.5), t0.Add(time.Minute))

	require.Len(t, deltas, 1)
	d := deltas[0]
	assert.Equal(t, int64(30), d.DeltaVolume)
	assert.InDelta(t, 30*2.5*100, d.Premium, 1e-9)
	assert.InDelta(t, 30.0, d.Velocity, 1e-9)
	assert.Equal(t, models.IntensityStrong, d.Intensity)
}

func TestDiffFiltersBelowMinDelta(t *testing.T) {
	tr := New(120*time.Second, 5, zerolog.Nop())
	t0 := time.Now()

	tr.Diff("AAPL", chain(map[string]int64{"a": 100, "b": 100}, 1), t0)
	deltas := tr.Diff("AAPL", chain(map[string]int64{"a": 104, "b": 105}, 1), t0.Add(30*time.Second))

	require.Len(t, deltas, 1)
	assert.Equal(t, "b", deltas[0].ContractID)
}

func TestDiffExpiredBaselineResets(t *testing.T) {
	tr := New(120*time.Second, 5, zerolog.Nop())
	t0 := time.Now()

	tr.Diff("AAPL", chain(map[string]int64{"a": 100}, 1), t0)
	// Baseline older than the TTL must not produce a delta.
	deltas := tr.Diff("AAPL", chain(map[string]int64{"a": 900}, 1), t0.Add(3*time.Minute))
	assert.Nil(t, deltas)

	// But the rescan re-established a baseline, so the next diff works.
	deltas = tr.Diff("AAPL", chain(map[string]int64{"a": 910}, 1), t0.Add(4*time.Minute))
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(10), deltas[0].DeltaVolume)
}

func TestSweep(t *testing.T) {
	tr := New(120*time.Second, 5, zerolog.Nop())
	t0 := time.Now()

	tr.Diff("AAPL", chain(map[string]int64{"a": 1}, 1), t0)
	tr.Diff("TSLA", chain(map[string]int64{"b": 1}, 1), t0.Add(2*time.Minute))

	removed := tr.Sweep(t0.Add(150 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Len())
}
