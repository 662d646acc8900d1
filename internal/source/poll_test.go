package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/provider"
)

// scriptedChains returns successive chain snapshots per symbol.
type scriptedChains struct {
	mu    sync.Mutex
	calls int
	steps [][]provider.ChainContract
}

func (s *scriptedChains) GetOptionChainSnapshot(ctx context.Context, symbol string) ([]provider.ChainContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i], nil
}

func TestPollSourceEmitsDeltas(t *testing.T) {
	chains := &scriptedChains{steps: [][]provider.ChainContract{
		{{ContractID: "AAPL240119C00190000", DayVolume: 1000, LastPrice: 2.5}},
		{{ContractID: "AAPL240119C00190000", DayVolume: 1100, LastPrice: 2.6}},
	}}

	cfg := PollConfig{
		Interval:      20 * time.Millisecond,
		FetchTimeout:  time.Second,
		MinDelta:      5,
		SnapshotTTL:   time.Minute,
		SweepInterval: time.Minute,
		Symbols:       []string{"AAPL"},
		Buffer:        16,
	}
	p := NewPollSource(cfg, chains, metrics.New(), zerolog.Nop())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	select {
	case ev := <-p.Events():
		assert.Equal(t, "AAPL", ev.Symbol)
		assert.Equal(t, "AAPL240119C00190000", ev.ContractID)
		assert.Equal(t, int64(100), ev.Size)
		assert.InDelta(t, 100*2.6*100, ev.Premium, 1e-9)
		assert.Equal(t, models.SideUnknown, ev.Side)
		assert.Equal(t, models.SourcePoll, ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no delta event emitted")
	}
}

func TestPollSourcePremiumFilter(t *testing.T) {
	chains := &scriptedChains{steps: [][]provider.ChainContract{
		{{ContractID: "AAPL240119C00190000", DayVolume: 1000, LastPrice: 0.05}},
		{{ContractID: "AAPL240119C00190000", DayVolume: 1010, LastPrice: 0.05}},
	}}

	cfg := PollConfig{
		Interval:      20 * time.Millisecond,
		MinDelta:      5,
		PremiumFilter: 10000,
		Symbols:       []string{"AAPL"},
		Buffer:        16,
	}
	p := NewPollSource(cfg, chains, metrics.New(), zerolog.Nop())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	select {
	case ev := <-p.Events():
		t.Fatalf("below-filter event emitted: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// Lifecycle calls arrive from both the gateway supervisor and the shutdown
// path; they must be safe to interleave.
func TestPollSourceLifecycle(t *testing.T) {
	chains := &scriptedChains{steps: [][]provider.ChainContract{nil}}
	cfg := PollConfig{
		Interval: 10 * time.Millisecond,
		Symbols:  []string{"AAPL"},
		Buffer:   16,
	}
	p := NewPollSource(cfg, chains, metrics.New(), zerolog.Nop())

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()), "second start must be rejected")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Stop(context.Background()))
		}()
	}
	wg.Wait()

	// Stopped source can be started again.
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
}

func TestPollSourceRequiresSymbols(t *testing.T) {
	p := NewPollSource(PollConfig{}, &scriptedChains{steps: [][]provider.ChainContract{nil}}, metrics.New(), zerolog.Nop())
	assert.Error(t, p.Start(context.Background()))
}
