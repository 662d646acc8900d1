package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/provider"
	"github.com/flowsentry/flowsentry/internal/voldelta"
)

// PollConfig configures the snapshot-diff fallback source.
type PollConfig struct {
	Interval      time.Duration
	FetchTimeout  time.Duration
	MinDelta      int64
	SnapshotTTL   time.Duration
	SweepInterval time.Duration
	PremiumFilter float64
	Symbols       []string
	Buffer        int
}

// PollSource synthesizes trade prints by polling option-chain snapshots and
// diffing them against the previous scan. It is the fallback when the stream
// is unhealthy.
type PollSource struct {
	cfg     PollConfig
	chains  provider.ChainSnapshots
	tracker *voldelta.Tracker
	metrics *metrics.Registry
	logger  zerolog.Logger

	out chan models.RawEvent

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPollSource constructs a poll source over the given chain snapshot
// capability.
func NewPollSource(cfg PollConfig, chains provider.ChainSnapshots, reg *metrics.Registry, logger zerolog.Logger) *PollSource {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 120 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 300 * time.Second
	}
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = 5
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	log := logger.With().Str("component", "poll_source").Logger()
	return &PollSource{
		cfg:     cfg,
		chains:  chains,
		tracker: voldelta.New(cfg.SnapshotTTL, cfg.MinDelta, log),
		metrics: reg,
		logger:  log,
		out:     make(chan models.RawEvent, cfg.Buffer),
	}
}

// Start launches the fixed-interval scan loop.
func (p *PollSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("poll source already started")
	}
	if len(p.cfg.Symbols) == 0 {
		return errors.New("poll source has no symbols to track")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.loop(loopCtx)

	p.logger.Info().Int("symbols", len(p.cfg.Symbols)).
		Dur("interval", p.cfg.Interval).Msg("poll source started")
	return nil
}

// Events returns the output channel.
func (p *PollSource) Events() <-chan models.RawEvent {
	return p.out
}

// Stop cancels the scan loop and waits for it to exit.
func (p *PollSource) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("poll source stop: %w", ctx.Err())
	}
}

func (p *PollSource) loop(ctx context.Context) {
	defer close(p.done)

	scan := time.NewTicker(p.cfg.Interval)
	defer scan.Stop()
	sweep := time.NewTicker(p.cfg.SweepInterval)
	defer sweep.Stop()

	// Prime the baselines immediately so the first ticker scan yields
	// deltas instead of establishing all baselines.
	p.scanAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			p.tracker.Sweep(time.Now())
		case <-scan.C:
			p.scanAll(ctx)
		}
	}
}

func (p *PollSource) scanAll(ctx context.Context) {
	for _, symbol := range p.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		p.scanSymbol(ctx, symbol)
	}
}

func (p *PollSource) scanSymbol(ctx context.Context, symbol string) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	contracts, err := p.chains.GetOptionChainSnapshot(fetchCtx, symbol)
	cancel()
	if err != nil {
		p.metrics.ProviderErrors.WithLabelValues("chain_snapshot").Inc()
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("chain snapshot failed")
		return
	}

	now := time.Now().UTC()
	for _, d := range p.tracker.Diff(symbol, contracts, now) {
		if d.Premium < p.cfg.PremiumFilter {
			p.metrics.EventsDropped.WithLabelValues("premium_filter").Inc()
			continue
		}
		ev := models.RawEvent{
			Symbol:     symbol,
			ContractID: d.ContractID,
			Premium:    d.Premium,
			Size:       d.DeltaVolume,
			Price:      d.LastPrice,
			Side:       models.SideUnknown,
			Timestamp:  now,
			Source:     models.SourcePoll,
			Intensity:  d.Intensity,
		}
		select {
		case p.out <- ev:
			p.metrics.EventsIngested.WithLabelValues(string(models.SourcePoll)).Inc()
		default:
			p.metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
		}
	}
}

var _ EventSource = (*PollSource)(nil)
