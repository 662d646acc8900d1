package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
)

// Mode is the gateway's active-source state.
type Mode int32

const (
	ModeDisconnected Mode = iota
	ModeStreaming
	ModePolling
)

func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModePolling:
		return "polling"
	default:
		return "disconnected"
	}
}

// GatewayConfig tunes failover behavior.
type GatewayConfig struct {
	// CheckInterval is how often health is evaluated.
	CheckInterval time.Duration
	// ReconnectInterval is how often a stream restart is attempted while
	// polling.
	ReconnectInterval time.Duration
	// Buffer sizes the unified output channel.
	Buffer int
}

// SourceGateway owns exactly one active EventSource and exposes a single
// normalized output channel regardless of mode. Transitions between
// STREAMING and POLLING are driven solely by HealthMonitor signals.
type SourceGateway struct {
	cfg     GatewayConfig
	stream  EventSource
	poll    EventSource
	health  *HealthMonitor
	metrics *metrics.Registry
	logger  zerolog.Logger

	onDisconnect func()
	onReconnect  func()

	out    chan models.RawEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	mode Mode
}

// NewSourceGateway wires the two sources under one health monitor.
func NewSourceGateway(cfg GatewayConfig, stream, poll EventSource, health *HealthMonitor, reg *metrics.Registry, logger zerolog.Logger) *SourceGateway {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 30 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &SourceGateway{
		cfg:     cfg,
		stream:  stream,
		poll:    poll,
		health:  health,
		metrics: reg,
		logger:  logger.With().Str("component", "source_gateway").Logger(),
		out:     make(chan models.RawEvent, cfg.Buffer),
		mode:    ModeDisconnected,
	}
}

// OnDisconnect registers a hook invoked on each failover to polling.
func (g *SourceGateway) OnDisconnect(fn func()) { g.onDisconnect = fn }

// OnReconnect registers a hook invoked on each failback to streaming.
func (g *SourceGateway) OnReconnect(fn func()) { g.onReconnect = fn }

// Mode returns the current gateway mode.
func (g *SourceGateway) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Health returns a snapshot of the stream health state.
func (g *SourceGateway) Health() HealthState {
	return g.health.Snapshot()
}

// Events returns the unified output channel.
func (g *SourceGateway) Events() <-chan models.RawEvent {
	return g.out
}

// Start brings up the stream source, falling straight back to polling when
// the stream cannot start, then launches the forward and supervise loops.
func (g *SourceGateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.mode != ModeDisconnected {
		g.mu.Unlock()
		return errors.New("gateway already started")
	}
	g.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})

	if err := g.stream.Start(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("stream start failed, starting in poll mode")
		g.health.SetConnected(false, time.Now())
		if perr := g.poll.Start(ctx); perr != nil {
			cancel()
			return errors.Join(err, perr)
		}
		g.setMode(ModePolling)
	} else {
		g.setMode(ModeStreaming)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); g.forwardLoop(loopCtx) }()
	go func() { defer wg.Done(); g.superviseLoop(loopCtx) }()
	go func() { wg.Wait(); close(g.done) }()
	return nil
}

// Stop shuts down both sources and the gateway loops within the context's
// grace period.
func (g *SourceGateway) Stop(ctx context.Context) error {
	if g.cancel == nil {
		return nil
	}
	g.cancel()

	errStream := g.stream.Stop(ctx)
	errPoll := g.poll.Stop(ctx)
	g.setMode(ModeDisconnected)

	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return errors.Join(errStream, errPoll)
}

// forwardLoop merges both source channels onto the unified output. Both
// channels are always drained so a mode switch never drops in-flight events
// from the previous source.
func (g *SourceGateway) forwardLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.stream.Events():
			g.forward(ctx, ev)
		case ev := <-g.poll.Events():
			g.forward(ctx, ev)
		}
	}
}

func (g *SourceGateway) forward(ctx context.Context, ev models.RawEvent) {
	select {
	case g.out <- ev:
	case <-ctx.Done():
	}
}

// superviseLoop evaluates health on a fixed cadence and performs
// failover/failback. While polling it periodically restarts the stream
// source; a successful restart marks the stream connected, which the next
// health evaluation turns into a failback.
func (g *SourceGateway) superviseLoop(ctx context.Context) {
	check := time.NewTicker(g.cfg.CheckInterval)
	defer check.Stop()
	reconnect := time.NewTicker(g.cfg.ReconnectInterval)
	defer reconnect.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			now := time.Now()
			switch g.Mode() {
			case ModeStreaming:
				if g.health.ShouldFallback(now) {
					g.failover(ctx)
				}
			case ModePolling:
				if !g.health.ShouldFallback(now) {
					g.failback(ctx)
				}
			}
		case <-reconnect.C:
			if g.Mode() == ModePolling {
				g.attemptReconnect(ctx)
			}
		}
	}
}

func (g *SourceGateway) failover(ctx context.Context) {
	g.logger.Warn().Msg("stream unhealthy, failing over to poll source")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := g.stream.Stop(stopCtx); err != nil {
		g.logger.Warn().Err(err).Msg("stream stop during failover")
	}
	cancel()
	g.health.SetConnected(false, time.Now())

	if err := g.poll.Start(ctx); err != nil {
		g.logger.Error().Err(err).Msg("poll source start failed during failover")
	}
	g.setMode(ModePolling)
	g.metrics.FailoverTotal.WithLabelValues("to_poll").Inc()
	if g.onDisconnect != nil {
		g.onDisconnect()
	}
}

func (g *SourceGateway) failback(ctx context.Context) {
	g.logger.Info().Msg("stream healthy again, failing back to stream source")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := g.poll.Stop(stopCtx); err != nil {
		g.logger.Warn().Err(err).Msg("poll stop during failback")
	}
	cancel()

	g.setMode(ModeStreaming)
	g.metrics.FailoverTotal.WithLabelValues("to_stream").Inc()
	if g.onReconnect != nil {
		g.onReconnect()
	}
}

// attemptReconnect restarts the stream source in the background. Events
// keep flowing from the poll source until health confirms the stream.
func (g *SourceGateway) attemptReconnect(ctx context.Context) {
	if g.health.Snapshot().Connected {
		return // prior attempt still pending health confirmation
	}
	g.logger.Info().Msg("attempting stream reconnect")
	if err := g.stream.Start(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("stream reconnect failed")
		return
	}
}

func (g *SourceGateway) setMode(m Mode) {
	g.mu.Lock()
	g.mode = m
	g.mu.Unlock()
	g.metrics.SourceMode.Set(float64(m))
	g.logger.Info().Str("mode", m.String()).Msg("gateway mode")
}
