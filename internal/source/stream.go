package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
)

// StreamConfig configures the broker subscription.
type StreamConfig struct {
	Addresses []string
	Username  string
	Password  string
	Group     string
	Topic     string

	// PremiumFilter drops prints below this notional before they enter the
	// pipeline.
	PremiumFilter float64

	// FetchTimeout bounds each receive attempt so the read loop keeps
	// cycling (and health keeps being evaluated) through quiet periods.
	FetchTimeout time.Duration

	// Buffer sizes the output channel; when the consumer lags, newest
	// events are dropped rather than stalling broker consumption.
	Buffer int
}

// maxConsecutiveErrors is how many back-to-back fetch errors mark the
// stream disconnected.
const maxConsecutiveErrors = 5

// tradeMessage is the broker wire format for one options print.
type tradeMessage struct {
	ID        string  `json:"id"` // contract ticker plus disambiguating suffix
	Symbol    string  `json:"symbol"`
	Premium   float64 `json:"premium"`
	Strike    float64 `json:"strike"`
	Expiry    string  `json:"expiry"`
	Side      string  `json:"side"`
	Size      int64   `json:"size"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

// StreamSource consumes options prints from the broker topic.
type StreamSource struct {
	cfg     StreamConfig
	health  *HealthMonitor
	metrics *metrics.Registry
	logger  zerolog.Logger

	out    chan models.RawEvent
	reader *kafka.Reader

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewStreamSource constructs a stream source; it does not connect until
// Start.
func NewStreamSource(cfg StreamConfig, health *HealthMonitor, reg *metrics.Registry, logger zerolog.Logger) *StreamSource {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &StreamSource{
		cfg:     cfg,
		health:  health,
		metrics: reg,
		logger:  logger.With().Str("component", "stream_source").Logger(),
		out:     make(chan models.RawEvent, cfg.Buffer),
	}
}

// Start connects the broker reader and launches the consume loop.
func (s *StreamSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("stream source already started")
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if s.cfg.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: s.cfg.Username, Password: s.cfg.Password}
	}

	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.cfg.Addresses,
		GroupID:     s.cfg.Group,
		Topic:       s.cfg.Topic,
		Dialer:      dialer,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		StartOffset: kafka.LastOffset,
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.health.SetConnected(true, time.Now())

	go s.consumeLoop(loopCtx)

	s.logger.Info().Strs("brokers", s.cfg.Addresses).
		Str("topic", s.cfg.Topic).Str("group", s.cfg.Group).
		Msg("stream source started")
	return nil
}

// Events returns the output channel. It stays valid across Stop/Start cycles.
func (s *StreamSource) Events() <-chan models.RawEvent {
	return s.out
}

// Stop cancels the consume loop and closes the broker reader, waiting for
// the loop to exit or the context to expire.
func (s *StreamSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done, reader := s.cancel, s.done, s.reader
	s.mu.Unlock()

	cancel()
	err := reader.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stream source stop: %w", ctx.Err())
	}
	s.health.SetConnected(false, time.Now())
	return err
}

func (s *StreamSource) consumeLoop(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue // quiet topic; loop so health keeps being sampled
			}
			s.health.RecordError()
			s.logger.Warn().Err(err).Msg("broker fetch error")
			// Persistent receive errors mean the connection is gone even
			// if the reader has not said so; surface that to the monitor.
			if s.health.Snapshot().ConsecutiveErrors >= maxConsecutiveErrors {
				s.health.SetConnected(false, time.Now())
			}
			continue
		}

		s.health.RecordMessage(time.Now())
		s.handleMessage(ctx, msg)
	}
}

func (s *StreamSource) handleMessage(ctx context.Context, msg kafka.Message) {
	ev, err := parseTradeMessage(msg.Value)
	if err != nil {
		// Malformed payloads are dropped, never retried.
		s.metrics.ParseErrors.Inc()
		s.logger.Debug().Err(err).Msg("dropping unparseable message")
	} else if ev.Premium < s.cfg.PremiumFilter {
		s.metrics.EventsDropped.WithLabelValues("premium_filter").Inc()
	} else {
		// Fire-and-forget: a slow consumer must never stall broker
		// consumption, so a full buffer drops the event.
		select {
		case s.out <- ev:
			s.metrics.EventsIngested.WithLabelValues(string(models.SourceStream)).Inc()
		default:
			s.metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
			s.logger.Warn().Str("contract", ev.ContractID).Msg("output buffer full, dropping event")
		}
	}

	if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("commit failed")
	}
}

// parseTradeMessage normalizes one broker payload into a RawEvent. Unknown
// fields are ignored; missing required fields are an error.
func parseTradeMessage(payload []byte) (models.RawEvent, error) {
	var m tradeMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return models.RawEvent{}, fmt.Errorf("decode trade message: %w", err)
	}
	if m.ID == "" || m.Symbol == "" {
		return models.RawEvent{}, errors.New("trade message missing id or symbol")
	}

	side := models.SideUnknown
	switch m.Side {
	case "buy", "b":
		side = models.TradeBuy
	case "sell", "s":
		side = models.TradeSell
	}

	ts := time.Now().UTC()
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp).UTC()
	}

	return models.RawEvent{
		Symbol:     m.Symbol,
		ContractID: models.StripCompositeSuffix(m.ID),
		Premium:    m.Premium,
		Size:       m.Size,
		Price:      m.Price,
		Side:       side,
		Timestamp:  ts,
		Source:     models.SourceStream,
	}, nil
}

var _ EventSource = (*StreamSource)(nil)
