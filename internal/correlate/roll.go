package correlate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
)

// RollConfig tunes position-roll detection.
type RollConfig struct {
	// NearDTE is the "expiring soon" bound for the sell leg.
	NearDTE int
	// FarDTE is the "further out" bound for the buy leg.
	FarDTE int
	// MaxGap is the longest wall-clock gap between the two legs.
	MaxGap time.Duration
	// MinReinvestRatio is the least fraction of the sell premium the buy
	// leg must redeploy for the pair to count as a roll.
	MinReinvestRatio float64
	// Cooldown suppresses repeats of the same roll shape.
	Cooldown time.Duration

	Window WindowConfig
}

func (c *RollConfig) defaults() {
	if c.NearDTE <= 0 {
		c.NearDTE = 14
	}
	if c.FarDTE <= 0 {
		c.FarDTE = 21
	}
	if c.MaxGap <= 0 {
		c.MaxGap = 5 * time.Second
	}
	if c.MinReinvestRatio <= 0 {
		c.MinReinvestRatio = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 1800 * time.Second
	}
}

// RollCorrelator detects position rolls: a sell closing a near-dated leg
// followed shortly by a buy opening a further-dated leg on the same
// underlying and option side, redeploying a meaningful share of the capital.
type RollCorrelator struct {
	cfg     RollConfig
	windows *keyedWindows
	metrics *metrics.Registry
	logger  zerolog.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

// NewRollCorrelator constructs the correlator with windows partitioned by
// underlying symbol.
func NewRollCorrelator(cfg RollConfig, reg *metrics.Registry, logger zerolog.Logger) *RollCorrelator {
	cfg.defaults()
	return &RollCorrelator{
		cfg:       cfg,
		windows:   newKeyedWindows(cfg.Window),
		metrics:   reg,
		logger:    logger.With().Str("component", "roll_correlator").Logger(),
		cooldowns: make(map[string]time.Time),
	}
}

// Name identifies the correlator in logs and metrics.
func (r *RollCorrelator) Name() string { return "roll" }

// Observe appends the event to its underlying's window and, when the event
// is a roll trigger, scans for the matching sell leg. At most one RollMatch
// is returned per observed event.
func (r *RollCorrelator) Observe(ev models.EnrichedEvent) (*models.RollMatch, bool) {
	contract, err := models.ParseContract(ev.ContractID)
	if err != nil {
		return nil, false
	}
	now := ev.Timestamp

	var match *models.RollMatch
	r.windows.withWindow(ev.Symbol, func(w *Window) {
		w.Add(ev, now)

		if !r.isTrigger(ev) {
			return
		}
		sell, ok := w.NewestMatch(ev, r.cfg.MaxGap, func(cand models.EnrichedEvent) bool {
			return r.isCounterpart(cand, contract.Side)
		})
		if !ok {
			return
		}
		if ev.Premium < r.cfg.MinReinvestRatio*sell.Premium {
			return // too little capital redeployed to be a roll
		}

		sellContract, err := models.ParseContract(sell.ContractID)
		if err != nil {
			return
		}
		match = &models.RollMatch{
			Symbol:       ev.Symbol,
			Side:         contract.Side,
			SellLeg:      sell,
			BuyLeg:       ev,
			SellStrike:   sellContract.Strike,
			BuyStrike:    contract.Strike,
			SellExpiry:   sellContract.Expiration,
			BuyExpiry:    contract.Expiration,
			SellPremium:  sell.Premium,
			BuyPremium:   ev.Premium,
			DTEExtension: ev.DTE - sell.DTE,
			Gap:          ev.Timestamp.Sub(sell.Timestamp),
		}
	})

	if match == nil {
		return nil, false
	}
	if !r.claimCooldown(match.CooldownKey(), now) {
		return nil, false
	}

	r.metrics.CorrelatorHits.WithLabelValues(r.Name()).Inc()
	r.metrics.WindowSize.WithLabelValues(r.Name()).Set(float64(r.windows.totalEntries()))
	r.logger.Info().Str("symbol", match.Symbol).Str("side", string(match.Side)).
		Int("dte_extension", match.DTEExtension).Dur("gap", match.Gap).
		Msg("roll detected")
	return match, true
}

// isTrigger: a buy-side print on a contract expiring beyond the far bound.
func (r *RollCorrelator) isTrigger(ev models.EnrichedEvent) bool {
	return ev.Side == models.TradeBuy && ev.DTE > r.cfg.FarDTE
}

// isCounterpart: a sell-side print on the same option side at or inside the
// near bound.
func (r *RollCorrelator) isCounterpart(cand models.EnrichedEvent, side models.OptionSide) bool {
	if cand.Side != models.TradeSell || cand.DTE > r.cfg.NearDTE {
		return false
	}
	c, err := models.ParseContract(cand.ContractID)
	return err == nil && c.Side == side
}

// claimCooldown records the roll shape; a second claim inside the cooldown
// interval fails so the same pair cannot re-fire.
func (r *RollCorrelator) claimCooldown(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.cooldowns[key]; ok && now.Sub(last) < r.cfg.Cooldown {
		return false
	}
	r.cooldowns[key] = now

	// Lazy prune keeps the map bounded without a dedicated janitor.
	for k, t := range r.cooldowns {
		if now.Sub(t) >= r.cfg.Cooldown {
			delete(r.cooldowns, k)
		}
	}
	return true
}
