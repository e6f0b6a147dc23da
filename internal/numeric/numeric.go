// Package numeric provides conversions between payment-token base units and
// human-readable display amounts.
package numeric

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayAmount renders a base-unit amount as a decimal string scaled by the
// token's decimals, e.g. 1500000000000000000 with 18 decimals → "1.5".
// A nil amount renders as "0".
func DisplayAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	d := decimal.NewFromBigInt(amount, -decimals)
	return d.String()
}

// ParseAmount converts a display-unit decimal string into base units,
// truncating any precision beyond the token's decimals toward zero.
// On failure it returns (nil, false).
func ParseAmount(s string, decimals int32) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	shifted := d.Shift(decimals).Truncate(0)
	return shifted.BigInt(), true
}

// ParseBaseAmount parses a plain base-unit integer string.
func ParseBaseAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, false
	}
	return v, true
}
