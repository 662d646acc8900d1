// Package pipeline wires the ingestion, enrichment, correlation, dedup, and
// dispatch stages and owns their lifecycle.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/correlate"
	"github.com/flowsentry/flowsentry/internal/dedup"
	"github.com/flowsentry/flowsentry/internal/dispatch"
	"github.com/flowsentry/flowsentry/internal/enrich"
	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/source"
)

// Config tunes pipeline-wide concurrency and lifecycle.
type Config struct {
	// MaxTasks bounds concurrent per-event enrichment/correlation tasks.
	MaxTasks int
	// ShutdownGrace bounds how long Stop waits for in-flight work.
	ShutdownGrace time.Duration
	// SweepInterval drives the dedup state janitor.
	SweepInterval time.Duration
}

func (c *Config) defaults() {
	if c.MaxTasks <= 0 {
		c.MaxTasks = 32
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 300 * time.Second
	}
}

// Pipeline drives raw events from the gateway through enrichment,
// correlation, the dedup gate, and out to the dispatcher.
type Pipeline struct {
	cfg        Config
	gateway    *source.SourceGateway
	enricher   *enrich.Enricher
	roll       *correlate.RollCorrelator
	hedge      *correlate.HedgeCorrelator
	dedup      *dedup.Deduplicator
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Registry
	logger     zerolog.Logger

	sem    chan struct{}
	tasks  sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// New assembles a pipeline from already-constructed stages.
func New(cfg Config, gw *source.SourceGateway, en *enrich.Enricher, roll *correlate.RollCorrelator, hedge *correlate.HedgeCorrelator, dd *dedup.Deduplicator, dp *dispatch.Dispatcher, reg *metrics.Registry, logger zerolog.Logger) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:        cfg,
		gateway:    gw,
		enricher:   en,
		roll:       roll,
		hedge:      hedge,
		dedup:      dd,
		dispatcher: dp,
		metrics:    reg,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		sem:        make(chan struct{}, cfg.MaxTasks),
	}
}

// Gateway exposes the source gateway for the ops health view.
func (p *Pipeline) Gateway() *source.SourceGateway { return p.gateway }

// Start brings up the dispatcher, the gateway, and the run/sweep loops.
func (p *Pipeline) Start(ctx context.Context) error {
	p.dispatcher.Start()
	if err := p.gateway.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.sweepLoop(loopCtx)
	go p.runLoop(loopCtx)

	p.logger.Info().Int("max_tasks", p.cfg.MaxTasks).Msg("pipeline started")
	return nil
}

// Stop shuts the pipeline down in order: source, in-flight tasks, then the
// dispatcher, all within the configured grace period.
func (p *Pipeline) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	graceCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownGrace)
	defer cancel()

	err := p.gateway.Stop(graceCtx)

	finished := make(chan struct{})
	go func() { p.tasks.Wait(); close(finished) }()
	select {
	case <-finished:
	case <-graceCtx.Done():
		p.logger.Warn().Msg("abandoning in-flight tasks at shutdown grace")
	}

	if derr := p.dispatcher.Stop(graceCtx); derr != nil && err == nil {
		err = derr
	}

	<-p.done
	p.logger.Info().Msg("pipeline stopped")
	return err
}

func (p *Pipeline) runLoop(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.gateway.Events():
			p.admit(ctx, raw)
		}
	}
}

// admit runs the cheap dedup pre-check and then hands the event to a
// bounded task so a burst cannot create unbounded concurrent fetches.
func (p *Pipeline) admit(ctx context.Context, raw models.RawEvent) {
	if !p.dedup.PreCheck(raw.ContractID, raw.Timestamp) {
		p.metrics.EventsDropped.WithLabelValues("precheck").Inc()
		return
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	p.tasks.Add(1)
	p.metrics.InflightTasks.Inc()
	go func() {
		defer func() {
			<-p.sem
			p.tasks.Done()
			p.metrics.InflightTasks.Dec()
		}()
		p.process(ctx, raw)
	}()
}

// process is one full pipeline pass for one raw event.
func (p *Pipeline) process(ctx context.Context, raw models.RawEvent) {
	ev := p.enricher.Enrich(ctx, raw)
	now := time.Now().UTC()

	hedgeRes := p.hedge.Classify(ctx, ev)

	if match, ok := p.roll.Observe(ev); ok {
		p.emitRoll(ev, match, now)
	}

	alert := models.Alert{
		ID:        uuid.New(),
		Kind:      models.AlertPrint,
		Event:     ev,
		CreatedAt: now,
	}
	if hedgeRes.Class != models.HedgeUnknown {
		alert.Hedge = &hedgeRes
	}

	dec := p.dedup.Check(dedup.Request{
		Key:        alert.Key(),
		Symbol:     ev.Symbol,
		ContractID: ev.ContractID,
		Premium:    ev.Premium,
		Now:        now,
	})
	if !dec.Allow {
		return
	}
	alert.DedupClass = string(dec.Class)
	p.dispatcher.Dispatch(alert)
}

// emitRoll gates a roll match through the dedup rules (no contract
// cooldown: the pattern, not a single contract, is the identity).
func (p *Pipeline) emitRoll(ev models.EnrichedEvent, match *models.RollMatch, now time.Time) {
	alert := models.Alert{
		ID:        uuid.New(),
		Kind:      models.AlertRoll,
		Event:     ev,
		Roll:      match,
		CreatedAt: now,
	}
	dec := p.dedup.Check(dedup.Request{
		Key:     alert.Key(),
		Symbol:  match.Symbol,
		Premium: match.BuyPremium,
		Now:     now,
	})
	if !dec.Allow {
		return
	}
	alert.DedupClass = string(dec.Class)
	p.dispatcher.Dispatch(alert)
}

func (p *Pipeline) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.dedup.Sweep(time.Now().UTC())
		}
	}
}
