// Package dedup implements the cooldown/accumulation/rate-limit gate that
// prevents alert storms while still surfacing genuine accumulation.
package dedup

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/flowsentry/flowsentry/internal/metrics"
)

// Class labels a dedup decision.
type Class string

const (
	ClassNew          Class = "NEW"
	ClassAccumulation Class = "ACCUMULATION"
	ClassRefresh      Class = "REFRESH"
	ClassDuplicate    Class = "DUPLICATE"
	ClassThrottled    Class = "THROTTLED"
)

// Decision is the outcome of the dedup gate for one candidate alert.
type Decision struct {
	Allow  bool
	Class  Class
	Reason string
}

// Config tunes per-key rules and the three independent throttles.
type Config struct {
	// AccumulationMultiple: new premium must be at least this multiple of
	// the cumulative premium to count as accumulation.
	AccumulationMultiple float64
	// AccumulationMinGap is the least time since the last alert on a key
	// before accumulation may fire.
	AccumulationMinGap time.Duration
	// MaxAccumulationAlerts caps how many alerts a key may accumulate.
	MaxAccumulationAlerts int
	// RefreshPremium is the "large print" bar for the refresh rule.
	RefreshPremium float64
	// RefreshGap is the least time since the last alert for a refresh.
	RefreshGap time.Duration

	// GlobalPerMinute caps alerts per minute across all keys.
	GlobalPerMinute int
	// PerSymbolLimit caps alerts per symbol within PerSymbolWindow.
	PerSymbolLimit  int
	PerSymbolWindow time.Duration
	// ContractCooldown suppresses repeats of the identical contract.
	ContractCooldown time.Duration

	// SweepHorizon: per-key state idle this long is cleared.
	SweepHorizon time.Duration
}

func (c *Config) defaults() {
	if c.AccumulationMultiple <= 0 {
		c.AccumulationMultiple = 2.0
	}
	if c.AccumulationMinGap <= 0 {
		c.AccumulationMinGap = 15 * time.Minute
	}
	if c.MaxAccumulationAlerts <= 0 {
		c.MaxAccumulationAlerts = 3
	}
	if c.RefreshPremium <= 0 {
		c.RefreshPremium = 500_000
	}
	if c.RefreshGap <= 0 {
		c.RefreshGap = 240 * time.Minute
	}
	if c.GlobalPerMinute <= 0 {
		c.GlobalPerMinute = 30
	}
	if c.PerSymbolLimit <= 0 {
		c.PerSymbolLimit = 5
	}
	if c.PerSymbolWindow <= 0 {
		c.PerSymbolWindow = 10 * time.Minute
	}
	if c.ContractCooldown <= 0 {
		c.ContractCooldown = 900 * time.Second
	}
	if c.SweepHorizon <= 0 {
		c.SweepHorizon = 24 * time.Hour
	}
}

// DedupState tracks the alert history of one key. Only the Deduplicator
// mutates it.
type DedupState struct {
	FirstSeen         time.Time
	CumulativePremium float64
	AlertCount        int
	LastAlert         time.Time
}

// Request is one candidate alert presented to the gate.
type Request struct {
	Key        string
	Symbol     string
	ContractID string
	Premium    float64
	Now        time.Time
}

// Deduplicator applies three independent throttles and then the per-key
// cooldown/accumulation rules. One instance gates the whole pipeline.
type Deduplicator struct {
	cfg     Config
	metrics *metrics.Registry
	logger  zerolog.Logger

	mu        sync.Mutex
	states    map[string]*DedupState
	contracts map[string]time.Time   // contract id -> last allowed alert
	symbols   map[string][]time.Time // symbol -> recent allowed alerts
	global    *rate.Limiter
}

// New constructs a Deduplicator with defaults filled in.
func New(cfg Config, reg *metrics.Registry, logger zerolog.Logger) *Deduplicator {
	cfg.defaults()
	return &Deduplicator{
		cfg:       cfg,
		metrics:   reg,
		logger:    logger.With().Str("component", "dedup").Logger(),
		states:    make(map[string]*DedupState),
		contracts: make(map[string]time.Time),
		symbols:   make(map[string][]time.Time),
		global:    rate.NewLimiter(rate.Limit(float64(cfg.GlobalPerMinute)/60), cfg.GlobalPerMinute),
	}
}

// PreCheck is the cheap non-mutating gate run before enrichment and
// correlation: it only consults the per-contract cooldown so obviously
// duplicate prints skip the expensive work.
func (d *Deduplicator) PreCheck(contractID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.contracts[contractID]
	return !ok || now.Sub(last) >= d.cfg.ContractCooldown
}

// Check evaluates the throttles and per-key rules for one candidate alert
// and mutates state only when the alert is allowed.
func (d *Deduplicator) Check(req Request) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dec, ok := d.throttle(req); !ok {
		d.count(dec)
		return dec
	}

	// Reserve the global token before the per-key rules so the decision
	// order stays throttles-first, but give it back when the candidate is
	// suppressed: duplicates must not drain the global budget.
	res := d.global.ReserveN(req.Now, 1)
	if !res.OK() || res.DelayFrom(req.Now) > 0 {
		res.CancelAt(req.Now)
		dec := Decision{Class: ClassThrottled, Reason: "global ceiling"}
		d.count(dec)
		return dec
	}

	dec := d.shouldAlert(req.Key, req.Premium, req.Now)
	if dec.Allow {
		d.recordAllowed(req)
	} else {
		res.CancelAt(req.Now)
	}
	d.count(dec)
	return dec
}

// ShouldAlert evaluates only the per-key cooldown/accumulation rules,
// bypassing the throttles.
func (d *Deduplicator) ShouldAlert(key string, premium float64, now time.Time) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	dec := d.shouldAlert(key, premium, now)
	d.count(dec)
	return dec
}

// throttle applies the per-contract and per-symbol throttles; the global
// limiter is handled in Check so its token can be returned for suppressed
// alerts.
func (d *Deduplicator) throttle(req Request) (Decision, bool) {
	if req.ContractID != "" {
		if last, ok := d.contracts[req.ContractID]; ok && req.Now.Sub(last) < d.cfg.ContractCooldown {
			return Decision{Class: ClassThrottled, Reason: "contract cooldown"}, false
		}
	}

	if req.Symbol != "" {
		recent := pruneTimes(d.symbols[req.Symbol], req.Now.Add(-d.cfg.PerSymbolWindow))
		d.symbols[req.Symbol] = recent
		if len(recent) >= d.cfg.PerSymbolLimit {
			return Decision{Class: ClassThrottled, Reason: "per-symbol ceiling"}, false
		}
	}
	return Decision{}, true
}

// shouldAlert evaluates the per-key rules in order: NEW, ACCUMULATION,
// REFRESH, DUPLICATE.
func (d *Deduplicator) shouldAlert(key string, premium float64, now time.Time) Decision {
	st, ok := d.states[key]
	if !ok {
		d.states[key] = &DedupState{
			FirstSeen:         now,
			CumulativePremium: premium,
			AlertCount:        1,
			LastAlert:         now,
		}
		return Decision{Allow: true, Class: ClassNew, Reason: "first sight of key"}
	}

	sinceLast := now.Sub(st.LastAlert)

	if premium >= d.cfg.AccumulationMultiple*st.CumulativePremium &&
		sinceLast >= d.cfg.AccumulationMinGap &&
		st.AlertCount < d.cfg.MaxAccumulationAlerts {
		st.CumulativePremium += premium
		st.AlertCount++
		st.LastAlert = now
		return Decision{Allow: true, Class: ClassAccumulation, Reason: "premium accumulation"}
	}

	if premium >= d.cfg.RefreshPremium && sinceLast >= d.cfg.RefreshGap {
		st.LastAlert = now
		return Decision{Allow: true, Class: ClassRefresh, Reason: "large print refresh"}
	}

	return Decision{Class: ClassDuplicate, Reason: "inside cooldown"}
}

// recordAllowed updates the throttle ledgers after an allowed alert.
func (d *Deduplicator) recordAllowed(req Request) {
	if req.ContractID != "" {
		d.contracts[req.ContractID] = req.Now
	}
	if req.Symbol != "" {
		d.symbols[req.Symbol] = append(d.symbols[req.Symbol], req.Now)
	}
}

// Sweep clears key state and throttle ledgers idle beyond the horizon.
func (d *Deduplicator) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, st := range d.states {
		if now.Sub(st.LastAlert) > d.cfg.SweepHorizon {
			delete(d.states, key)
			removed++
		}
	}
	for id, last := range d.contracts {
		if now.Sub(last) > d.cfg.ContractCooldown {
			delete(d.contracts, id)
		}
	}
	for sym, times := range d.symbols {
		if pruned := pruneTimes(times, now.Add(-d.cfg.PerSymbolWindow)); len(pruned) == 0 {
			delete(d.symbols, sym)
		} else {
			d.symbols[sym] = pruned
		}
	}
	if removed > 0 {
		d.logger.Debug().Int("removed", removed).Msg("swept idle dedup state")
	}
	return removed
}

// State returns a copy of the state for a key, for tests and the ops view.
func (d *Deduplicator) State(key string) (DedupState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[key]
	if !ok {
		return DedupState{}, false
	}
	return *st, true
}

func (d *Deduplicator) count(dec Decision) {
	d.metrics.DedupDecisions.WithLabelValues(string(dec.Class)).Inc()
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	live := times[:0]
	for _, t := range times {
		if !t.Before(cutoff) {
			live = append(live, t)
		}
	}
	return live
}
