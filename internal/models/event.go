package models

import (
	"time"
)

// OptionSide identifies a contract as a call or a put.
type OptionSide string

const (
	SideCall OptionSide = "call"
	SidePut  OptionSide = "put"
)

// TradeSide is the best-effort aggressor hint attached to a print.
// Upstream feeds do not always carry it, so SideUnknown is a normal value.
type TradeSide string

const (
	TradeBuy    TradeSide = "buy"
	TradeSell   TradeSide = "sell"
	SideUnknown TradeSide = "unknown"
)

// SourceMode identifies which event source produced a RawEvent.
type SourceMode string

const (
	SourceStream SourceMode = "stream"
	SourcePoll   SourceMode = "poll"
)

// Intensity classifies the contracts-per-minute velocity of a poll-derived
// volume delta into priority bands.
type Intensity int

const (
	IntensityNormal Intensity = iota
	IntensityModerate
	IntensityStrong
	IntensityAggressive
)

// ClassifyIntensity maps a contracts-per-minute velocity onto a band.
// Bands: NORMAL < 10, MODERATE 10-20, STRONG 20-50, AGGRESSIVE >= 50.
func ClassifyIntensity(perMinute float64) Intensity {
	switch {
	case perMinute >= 50:
		return IntensityAggressive
	case perMinute >= 20:
		return IntensityStrong
	case perMinute >= 10:
		return IntensityModerate
	default:
		return IntensityNormal
	}
}

func (i Intensity) String() string {
	switch i {
	case IntensityAggressive:
		return "AGGRESSIVE"
	case IntensityStrong:
		return "STRONG"
	case IntensityModerate:
		return "MODERATE"
	default:
		return "NORMAL"
	}
}

// RawEvent is the unit of ingestion: one options trade print, normalized to
// the same shape regardless of which source produced it. Immutable once
// created.
type RawEvent struct {
	Symbol     string     `json:"symbol"`      // underlying symbol
	ContractID string     `json:"contract_id"` // OCC-style contract identifier
	Premium    float64    `json:"premium"`     // notional dollar value
	Size       int64      `json:"size"`        // contracts traded
	Price      float64    `json:"price"`       // per-contract trade price
	Side       TradeSide  `json:"side"`        // aggressor hint if available
	Timestamp  time.Time  `json:"timestamp"`
	Source     SourceMode `json:"source"`
	Intensity  Intensity  `json:"intensity"` // meaningful for poll-derived events only
}

// EnrichedEvent is a RawEvent augmented with quote, open-interest, and greeks
// context. Every field has a defined zero default so downstream consumers
// never branch on absence; Enriched=false marks a fully-formed degraded
// record whose numeric context could not be fetched.
type EnrichedEvent struct {
	RawEvent

	Bid             float64 `json:"bid"`
	Ask             float64 `json:"ask"`
	Spread          float64 `json:"spread"`
	OpenInterest    int64   `json:"open_interest"`
	DayVolume       int64   `json:"day_volume"`
	VolOIRatio      float64 `json:"vol_oi_ratio"`
	UnderlyingPrice float64 `json:"underlying_price"`
	OTMPercent      float64 `json:"otm_percent"`
	DTE             int     `json:"dte"`
	Enriched        bool    `json:"enriched"`
}
