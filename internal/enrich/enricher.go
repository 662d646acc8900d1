// Package enrich augments bare trade prints with quote, open-interest, and
// greeks context under a bounded timeout, degrading gracefully on failure.
package enrich

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/provider"
)

// Config tunes enrichment timeouts and the degraded-path gate.
type Config struct {
	// Timeout bounds the full contract snapshot fetch.
	Timeout time.Duration
	// DegradedPriceTimeout bounds the price-only fallback fetch.
	DegradedPriceTimeout time.Duration
	// DegradedMinPremium is the premium above which the price-only
	// fallback is worth one more call.
	DegradedMinPremium float64
}

// Enricher turns RawEvents into EnrichedEvents. Enrich never returns an
// error: any failure yields a fully-formed degraded record instead.
type Enricher struct {
	cfg       Config
	snapshots provider.ContractSnapshots
	spots     provider.SpotPrices
	metrics   *metrics.Registry
	logger    zerolog.Logger
}

// New constructs an Enricher. Zero timeouts default to 3s (full) and 1.5s
// (price-only); a zero degraded-premium gate defaults to $250k.
func New(cfg Config, snapshots provider.ContractSnapshots, spots provider.SpotPrices, reg *metrics.Registry, logger zerolog.Logger) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.DegradedPriceTimeout <= 0 {
		cfg.DegradedPriceTimeout = 1500 * time.Millisecond
	}
	if cfg.DegradedMinPremium <= 0 {
		cfg.DegradedMinPremium = 250_000
	}
	return &Enricher{
		cfg:       cfg,
		snapshots: snapshots,
		spots:     spots,
		metrics:   reg,
		logger:    logger.With().Str("component", "enricher").Logger(),
	}
}

// Enrich fetches the contract's current snapshot and computes the derived
// fields. On any failure it returns a degraded EnrichedEvent with
// Enriched=false and every numeric field zeroed or defaulted.
func (e *Enricher) Enrich(ctx context.Context, raw models.RawEvent) models.EnrichedEvent {
	ev := models.EnrichedEvent{RawEvent: raw}
	now := time.Now().UTC()

	contract, perr := models.ParseContract(raw.ContractID)
	if perr != nil {
		e.logger.Debug().Err(perr).Str("contract", raw.ContractID).Msg("unparseable contract id")
		e.metrics.EnrichOutcomes.WithLabelValues("degraded").Inc()
		return ev
	}
	ev.DTE = contract.DaysToExpiration(now)

	underlying := contract.Underlying
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	started := time.Now()
	snap, err := e.snapshots.GetSingleContractSnapshot(fetchCtx, underlying, raw.ContractID)
	cancel()
	e.metrics.EnrichLatency.Observe(time.Since(started).Seconds())

	if err != nil || snap == nil {
		if err != nil && ctx.Err() == nil {
			e.metrics.ProviderErrors.WithLabelValues("contract_snapshot").Inc()
			e.logger.Debug().Err(err).Str("contract", raw.ContractID).Msg("snapshot fetch failed")
		}
		return e.degrade(ctx, ev, contract)
	}

	ev.Bid = snap.Bid
	ev.Ask = snap.Ask
	if snap.Bid > 0 && snap.Ask > 0 {
		ev.Spread = snap.Ask - snap.Bid
	}
	ev.OpenInterest = snap.OpenInterest
	ev.DayVolume = snap.DayVolume
	if snap.OpenInterest > 0 {
		ev.VolOIRatio = float64(snap.DayVolume) / float64(snap.OpenInterest)
	}
	ev.UnderlyingPrice = snap.UnderlyingPrice
	ev.OTMPercent = otmPercent(contract, snap.UnderlyingPrice)
	ev.Enriched = true

	e.metrics.EnrichOutcomes.WithLabelValues("ok").Inc()
	return ev
}

// degrade handles the snapshot-miss path. For large-premium prints on plain
// equities one cheap price-only fetch keeps strike-distance math possible;
// everything else returns with price fields zeroed.
func (e *Enricher) degrade(ctx context.Context, ev models.EnrichedEvent, contract models.Contract) models.EnrichedEvent {
	if ev.Premium < e.cfg.DegradedMinPremium || models.IsIndexUnderlying(contract.Underlying) {
		e.metrics.EnrichOutcomes.WithLabelValues("degraded").Inc()
		return ev
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.DegradedPriceTimeout)
	price, err := e.spots.GetUnderlyingPrice(fetchCtx, contract.Underlying)
	cancel()
	if err != nil || price <= 0 {
		e.metrics.EnrichOutcomes.WithLabelValues("degraded").Inc()
		return ev
	}

	ev.UnderlyingPrice = price
	ev.OTMPercent = otmPercent(contract, price)
	e.metrics.EnrichOutcomes.WithLabelValues("price_only").Inc()
	return ev
}

// otmPercent computes how far out of the money the contract is, side-aware,
// positive only and clipped at zero for in-the-money strikes.
func otmPercent(c models.Contract, underlying float64) float64 {
	if underlying <= 0 {
		return 0
	}
	var pct float64
	switch c.Side {
	case models.SideCall:
		pct = (c.Strike - underlying) / underlying * 100
	case models.SidePut:
		pct = (underlying - c.Strike) / underlying * 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
