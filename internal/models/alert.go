package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertKind distinguishes what a dispatched Alert describes.
type AlertKind string

const (
	AlertPrint AlertKind = "print" // a single enriched trade print
	AlertRoll  AlertKind = "roll"  // a matched position roll
)

// HedgeClass is the outcome of the synthetic-hedge check on a print.
type HedgeClass string

const (
	HedgeUnknown HedgeClass = ""       // check not run (below premium gate)
	HedgeClean   HedgeClass = "CLEAN"  // no offsetting equity tape found
	HedgeHedged  HedgeClass = "HEDGED" // offsetting equity volume detected
)

// HedgeResult carries the hedge classification and the numbers behind it.
// Reason is populated when the check failed open (fetch error or timeout).
type HedgeResult struct {
	Class             HedgeClass `json:"class"`
	EquityVolume      int64      `json:"equity_volume"`      // summed qualifying tape size
	TheoreticalShares float64    `json:"theoretical_shares"` // contracts * 100 * assumed delta
	Threshold         float64    `json:"threshold"`          // shares needed for HEDGED
	Reason            string     `json:"reason,omitempty"`
}

// RollMatch describes a detected position roll: a near-dated sell leg closed
// and a further-dated buy leg opened on the same underlying and option side.
type RollMatch struct {
	Symbol       string        `json:"symbol"`
	Side         OptionSide    `json:"side"`
	SellLeg      EnrichedEvent `json:"sell_leg"`
	BuyLeg       EnrichedEvent `json:"buy_leg"`
	SellStrike   float64       `json:"sell_strike"`
	BuyStrike    float64       `json:"buy_strike"`
	SellExpiry   time.Time     `json:"sell_expiry"`
	BuyExpiry    time.Time     `json:"buy_expiry"`
	SellPremium  float64       `json:"sell_premium"`
	BuyPremium   float64       `json:"buy_premium"`
	DTEExtension int           `json:"dte_extension"` // buy DTE minus sell DTE
	Gap          time.Duration `json:"gap"`           // wall-clock gap between prints
}

// CooldownKey identifies the roll shape for correlator cooldown purposes.
func (r RollMatch) CooldownKey() string {
	return fmt.Sprintf("roll:%s:%s:%s:%s",
		r.Symbol, r.Side,
		r.SellExpiry.Format("060102"), r.BuyExpiry.Format("060102"))
}

// Alert is the unit handed to external consumers after the dedup gate.
type Alert struct {
	ID         uuid.UUID     `json:"id"`
	Kind       AlertKind     `json:"kind"`
	Event      EnrichedEvent `json:"event"`
	Roll       *RollMatch    `json:"roll,omitempty"`
	Hedge      *HedgeResult  `json:"hedge,omitempty"`
	DedupClass string        `json:"dedup_class"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Key derives the deterministic dedup identity of the alert: the pattern's
// semantically-unique shape, not the individual print.
func (a Alert) Key() string {
	if a.Kind == AlertRoll && a.Roll != nil {
		return a.Roll.CooldownKey()
	}
	c, err := ParseContract(a.Event.ContractID)
	if err != nil {
		return fmt.Sprintf("print:%s:%s", a.Event.Symbol, a.Event.ContractID)
	}
	return fmt.Sprintf("print:%s:%s:%.3f:%s",
		a.Event.Symbol, c.Side, c.Strike, c.Expiration.Format("060102"))
}
