// Package provider defines the capability interfaces the pipeline consumes
// from the upstream market-data collaborator. The core never assumes a wire
// format; every call may fail or time out and callers degrade accordingly.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested contract snapshot does not exist
// upstream. Callers treat it as a degraded (not fatal) outcome.
var ErrNotFound = errors.New("provider: not found")

// ChainContract is one contract row of an option-chain snapshot.
type ChainContract struct {
	ContractID string  // OCC-style identifier
	LastPrice  float64 // last trade price per contract
	DayVolume  int64   // cumulative volume for the session
}

// ContractSnapshot is the current state of a single contract: quote, open
// interest, day volume, greeks, and underlying spot.
type ContractSnapshot struct {
	Bid             float64
	Ask             float64
	LastPrice       float64
	OpenInterest    int64
	DayVolume       int64
	Delta           float64
	Gamma           float64
	Theta           float64
	Vega            float64
	ImpliedVol      float64
	UnderlyingPrice float64
	Updated         time.Time
}

// EquityTrade is one print from an underlying's equity tape.
type EquityTrade struct {
	Price     float64
	Size      int64
	Timestamp time.Time
}

// ChainSnapshots fetches full option-chain snapshots; backs the poll source.
type ChainSnapshots interface {
	GetOptionChainSnapshot(ctx context.Context, symbol string) ([]ChainContract, error)
}

// ContractSnapshots fetches a single contract's current snapshot; backs the
// enricher. Returns ErrNotFound when the contract is unknown upstream.
type ContractSnapshots interface {
	GetSingleContractSnapshot(ctx context.Context, underlying, contractID string) (*ContractSnapshot, error)
}

// EquityTape fetches an underlying's equity prints inside a symmetric window
// around a center timestamp; backs the hedge correlator.
type EquityTape interface {
	GetEquityTradesInWindow(ctx context.Context, symbol string, center time.Time, window time.Duration) ([]EquityTrade, error)
}

// SpotPrices is the cheap underlying-price-only lookup used on the enricher's
// degraded path when the full contract snapshot is unavailable.
type SpotPrices interface {
	GetUnderlyingPrice(ctx context.Context, symbol string) (float64, error)
}

// MarketData aggregates every capability the pipeline needs from one
// collaborator.
type MarketData interface {
	ChainSnapshots
	ContractSnapshots
	EquityTape
	SpotPrices
}
