package correlate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/provider"
)

// HedgeConfig tunes synthetic-hedge detection.
type HedgeConfig struct {
	// MinPremium gates which prints are worth a tape lookup.
	MinPremium float64
	// Window is the symmetric tape window around the print (each side).
	Window time.Duration
	// MinLot filters odd-lot noise out of the tape sum.
	MinLot int64
	// AssumedDelta stands in when no better delta is available.
	AssumedDelta float64
	// ThresholdFraction of the theoretical delta-equivalent share count
	// that summed tape volume must exceed to classify HEDGED.
	ThresholdFraction float64
	// FetchTimeout bounds the tape lookup.
	FetchTimeout time.Duration
}

func (c *HedgeConfig) defaults() {
	if c.MinPremium <= 0 {
		c.MinPremium = 100_000
	}
	if c.Window <= 0 {
		c.Window = 50 * time.Millisecond
	}
	if c.MinLot <= 0 {
		c.MinLot = 100
	}
	if c.AssumedDelta <= 0 {
		c.AssumedDelta = 0.5
	}
	if c.ThresholdFraction <= 0 {
		c.ThresholdFraction = 0.4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Second
	}
}

// HedgeCorrelator classifies options prints as HEDGED or CLEAN by checking
// the underlying's equity tape around the print. Every failure classifies
// CLEAN (fail open) with the reason attached; a hedge check never blocks or
// fails the pipeline.
type HedgeCorrelator struct {
	cfg     HedgeConfig
	tape    provider.EquityTape
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewHedgeCorrelator constructs the correlator over the given tape
// capability.
func NewHedgeCorrelator(cfg HedgeConfig, tape provider.EquityTape, reg *metrics.Registry, logger zerolog.Logger) *HedgeCorrelator {
	cfg.defaults()
	return &HedgeCorrelator{
		cfg:     cfg,
		tape:    tape,
		metrics: reg,
		logger:  logger.With().Str("component", "hedge_correlator").Logger(),
	}
}

// Name identifies the correlator in logs and metrics.
func (h *HedgeCorrelator) Name() string { return "hedge" }

// Classify runs the hedge check for one print. Prints below the premium
// gate return HedgeUnknown without a fetch.
func (h *HedgeCorrelator) Classify(ctx context.Context, ev models.EnrichedEvent) models.HedgeResult {
	if ev.Premium < h.cfg.MinPremium {
		return models.HedgeResult{Class: models.HedgeUnknown}
	}

	theoretical := float64(ev.Size) * 100 * h.cfg.AssumedDelta
	threshold := theoretical * h.cfg.ThresholdFraction
	result := models.HedgeResult{
		Class:             models.HedgeClean,
		TheoreticalShares: theoretical,
		Threshold:         threshold,
	}

	if models.IsIndexUnderlying(ev.Symbol) {
		result.Reason = "index underlying has no equity tape"
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
	trades, err := h.tape.GetEquityTradesInWindow(fetchCtx, ev.Symbol, ev.Timestamp, h.cfg.Window)
	cancel()
	if err != nil {
		h.metrics.ProviderErrors.WithLabelValues("equity_tape").Inc()
		result.Reason = fmt.Sprintf("tape fetch failed: %v", err)
		h.logger.Debug().Err(err).Str("symbol", ev.Symbol).Msg("hedge check failed open")
		return result
	}

	var volume int64
	for _, t := range trades {
		if t.Size >= h.cfg.MinLot {
			volume += t.Size
		}
	}
	result.EquityVolume = volume

	if float64(volume) > threshold {
		result.Class = models.HedgeHedged
		h.metrics.CorrelatorHits.WithLabelValues(h.Name()).Inc()
		h.logger.Info().Str("symbol", ev.Symbol).
			Int64("equity_volume", volume).Float64("threshold", threshold).
			Msg("synthetic hedge detected")
	}
	return result
}
