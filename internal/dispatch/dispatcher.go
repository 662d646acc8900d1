// Package dispatch fans final alerts out to external consumers, isolating
// the ingestion loop from slow or failing callbacks.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
)

// Consumer receives dispatched alerts. A given consumer sees alerts in the
// order the dispatcher processed them; ordering across consumers is
// unspecified.
type Consumer interface {
	Name() string
	OnEvent(alert models.Alert) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(models.Alert) error
}

func (c ConsumerFunc) Name() string { return c.ConsumerName }

func (c ConsumerFunc) OnEvent(alert models.Alert) error { return c.Fn(alert) }

// Dispatcher runs one goroutine and one bounded queue per consumer.
// Dispatch never waits on a consumer: a full queue drops the alert for that
// consumer only, and a panicking or erroring consumer is logged, never
// propagated.
type Dispatcher struct {
	metrics *metrics.Registry
	logger  zerolog.Logger
	buffer  int

	mu      sync.Mutex
	queues  []*consumerQueue
	started bool

	wg sync.WaitGroup
}

type consumerQueue struct {
	consumer Consumer
	ch       chan models.Alert
}

// NewDispatcher constructs a dispatcher; buffer sizes each consumer queue
// (default 256).
func NewDispatcher(buffer int, reg *metrics.Registry, logger zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		metrics: reg,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		buffer:  buffer,
	}
}

// Register adds a consumer. Must be called before Start.
func (d *Dispatcher) Register(c Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues = append(d.queues, &consumerQueue{
		consumer: c,
		ch:       make(chan models.Alert, d.buffer),
	})
}

// Start launches one delivery goroutine per registered consumer.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for _, q := range d.queues {
		d.wg.Add(1)
		go d.deliverLoop(q)
	}
}

// Dispatch enqueues the alert for every consumer without waiting for
// delivery.
func (d *Dispatcher) Dispatch(alert models.Alert) {
	d.mu.Lock()
	queues := d.queues
	d.mu.Unlock()

	for _, q := range queues {
		select {
		case q.ch <- alert:
		default:
			d.metrics.DispatchErrors.Inc()
			d.logger.Warn().Str("consumer", q.consumer.Name()).
				Str("alert", alert.ID.String()).Msg("consumer queue full, dropping alert")
		}
	}
}

// Stop closes the queues and waits for in-flight deliveries to finish or
// the context to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	for _, q := range d.queues {
		close(q.ch)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() { d.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliverLoop(q *consumerQueue) {
	defer d.wg.Done()
	for alert := range q.ch {
		d.deliver(q.consumer, alert)
	}
}

// deliver invokes one consumer callback; panics and errors are contained
// here and never reach the ingestion loop.
func (d *Dispatcher) deliver(c Consumer, alert models.Alert) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.DispatchErrors.Inc()
			d.logger.Error().Str("consumer", c.Name()).
				Interface("panic", r).Msg("consumer panicked")
		}
	}()

	if err := c.OnEvent(alert); err != nil {
		d.metrics.DispatchErrors.Inc()
		d.logger.Warn().Err(err).Str("consumer", c.Name()).
			Dur("elapsed", time.Since(start)).Msg("consumer error")
	}
}
