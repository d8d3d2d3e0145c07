// Package fixedpoint provides integer helpers for the 18-decimal fixed-point
// representation used throughout the pricing engine.
//
// All division here truncates toward zero. Truncation (not rounding) is part
// of the engine's contract: two instances fed the same inputs must derive
// bit-identical prices.
package fixedpoint

import "math/big"

// Decimals is the canonical number of fractional digits.
const Decimals = 18

var (
	// One is the canonical scale factor, 10^18.
	One = Pow10(Decimals)

	ten = big.NewInt(10)
)

// Pow10 returns 10^n as a fresh big.Int. n must be non-negative.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// Rescale converts value from `from` fractional digits to `to` fractional
// digits, multiplying or dividing by the decimal gap. Division truncates.
func Rescale(value *big.Int, from, to int) *big.Int {
	out := new(big.Int).Set(value)
	switch {
	case to > from:
		out.Mul(out, Pow10(to-from))
	case from > to:
		out.Quo(out, Pow10(from-to))
	}
	return out
}

// MulDiv returns value * mul / div with truncating division.
// Returns nil if div is zero.
func MulDiv(value, mul, div *big.Int) *big.Int {
	if div.Sign() == 0 {
		return nil
	}
	out := new(big.Int).Mul(value, mul)
	return out.Quo(out, div)
}

// IsPositive reports whether v is non-nil and strictly greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// Clone returns a copy of v, or nil for nil.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
