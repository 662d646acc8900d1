package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Contract is the decoded form of an OCC-style contract identifier, e.g.
// "SPXW240119C04700000" = SPXW root, 2024-01-19 expiry, call, 4700 strike.
type Contract struct {
	Root       string
	Underlying string // canonical underlying after index-root remapping
	Expiration time.Time
	Side       OptionSide
	Strike     float64
}

// indexRootMap folds the alternate spellings of index option roots onto the
// provider's canonical underlying. Weekly and PM-settled variants trade under
// distinct roots but quote against the same underlying index.
var indexRootMap = map[string]string{
	"SPX":  "SPX",
	"SPXW": "SPX",
	"VIX":  "VIX",
	"VIXW": "VIX",
	"NDX":  "NDX",
	"NDXP": "NDX",
	"RUT":  "RUT",
	"RUTW": "RUT",
	"XSP":  "XSP",
	"DJX":  "DJX",
	"OEX":  "OEX",
	"XEO":  "OEX",
}

// CanonicalUnderlying maps a contract root to the underlying symbol every
// downstream fetch must query. Index-family roots collapse onto one canonical
// identifier; all other roots pass through unchanged.
func CanonicalUnderlying(root string) string {
	if u, ok := indexRootMap[root]; ok {
		return u
	}
	return root
}

// IsIndexUnderlying reports whether a symbol is one of the remapped index
// underlyings, which have no equity trade tape or last-trade quote.
func IsIndexUnderlying(symbol string) bool {
	_, ok := indexRootMap[symbol]
	return ok
}

// ContractRoot extracts the leading alphabetic run of a contract identifier.
func ContractRoot(contractID string) string {
	for i, r := range contractID {
		if !unicode.IsLetter(r) {
			return contractID[:i]
		}
	}
	return contractID
}

// ParseContract decodes an OCC-style identifier: root (letters), expiration
// (YYMMDD), side (C/P), strike (8 digits, thousandths of a dollar).
func ParseContract(contractID string) (Contract, error) {
	root := ContractRoot(contractID)
	if root == "" {
		return Contract{}, fmt.Errorf("contract %q: no root symbol", contractID)
	}

	rest := contractID[len(root):]
	if len(rest) != 15 {
		return Contract{}, fmt.Errorf("contract %q: want 15 chars after root, got %d", contractID, len(rest))
	}

	expiry, err := time.Parse("060102", rest[:6])
	if err != nil {
		return Contract{}, fmt.Errorf("contract %q: bad expiration: %w", contractID, err)
	}

	var side OptionSide
	switch rest[6] {
	case 'C':
		side = SideCall
	case 'P':
		side = SidePut
	default:
		return Contract{}, fmt.Errorf("contract %q: bad side %q", contractID, rest[6])
	}

	milli, err := strconv.ParseInt(rest[7:], 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("contract %q: bad strike: %w", contractID, err)
	}

	return Contract{
		Root:       root,
		Underlying: CanonicalUnderlying(root),
		Expiration: expiry,
		Side:       side,
		Strike:     float64(milli) / 1000,
	}, nil
}

// DaysToExpiration returns whole days from now to the contract's expiration,
// floored at 0 for expired or same-day contracts.
func (c Contract) DaysToExpiration(now time.Time) int {
	d := int(c.Expiration.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// StripCompositeSuffix reduces a composite stream identifier (contract ticker
// plus a disambiguating suffix) to the bare contract id. Only the portion
// before the first separator is the contract.
func StripCompositeSuffix(id string) string {
	if i := strings.IndexAny(id, "|-"); i >= 0 {
		return id[:i]
	}
	return id
}
