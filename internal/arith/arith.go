// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package arith defines the single rounding convention used throughout
// the distribution engine: every user-facing division happens in an
// integer domain, truncates (floors) to base units, and multiplies
// before it divides wherever precision matters. Floating point is never
// used for token or coin math.
package arith

import "math/big"

// Ratio is an exact (numerator, denominator) pair, carried unreduced so
// no precision is lost before the final floor division.
type Ratio struct {
	Num *big.Int
	Den *big.Int
}

// NewRatio builds a Ratio from two uint64s. Den must be non-zero.
func NewRatio(num, den uint64) Ratio {
	return Ratio{Num: new(big.Int).SetUint64(num), Den: new(big.Int).SetUint64(den)}
}

// Mul returns r * s as an unreduced Ratio.
func (r Ratio) Mul(s Ratio) Ratio {
	return Ratio{
		Num: new(big.Int).Mul(r.Num, s.Num),
		Den: new(big.Int).Mul(r.Den, s.Den),
	}
}

// MulUint multiplies the ratio's numerator by a plain integer.
func (r Ratio) MulUint(n uint64) Ratio {
	return Ratio{Num: new(big.Int).Mul(r.Num, new(big.Int).SetUint64(n)), Den: r.Den}
}

// Floor returns floor(Num/Den) as a uint64. Den must be non-zero; the
// caller is responsible for ensuring the result fits in a uint64 (it
// always does for the quantities this engine handles: base-unit coin and
// VT amounts never approach 2^64).
func (r Ratio) Floor() uint64 {
	if r.Den.Sign() == 0 {
		return 0
	}
	q := new(big.Int)
	q.Quo(r.Num, r.Den)
	if q.Sign() < 0 {
		return 0
	}
	return q.Uint64()
}

// FloorDiv returns floor(num/den) for plain uint64 operands, guarding
// against division by zero (returns 0, the conservative "no entitlement"
// answer — callers that need to distinguish a zero divisor from a zero
// result should check den themselves first).
func FloorDiv(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// FloorMulDiv returns floor(a*b/den) computed in big.Int to avoid
// uint64 overflow when a*b exceeds 2^64 (e.g. vt supply scaled by
// decimals times a percentage times a per-unit multiplier).
func FloorMulDiv(a, b, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	q := new(big.Int).Quo(prod, new(big.Int).SetUint64(den))
	return q.Uint64()
}

// Pow10 returns 10^n as a uint64. n is expected to be a small decimals
// count (vtDecimals/coinDecimals, 0-9), so this never overflows.
func Pow10(n uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}

// Min returns the smaller of two uint64s.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
