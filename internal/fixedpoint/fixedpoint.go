// Package fixedpoint implements the integer-scaled money arithmetic used for
// settlement. Every rounding step rounds half away from zero, so two
// implementations that follow the same rule settle to the same unit.
package fixedpoint

import (
	"math"
	"math/bits"

	"github.com/shopspring/decimal"

	apperrors "marketsim/internal/errors"
)

// Decimals is the number of fractional digits carried by a Value.
const Decimals = 4

// Scale is 10^Decimals.
const Scale int64 = 10000

// Value is a fixed-point number: the real value times Scale.
type Value int64

// Zero is the zero value.
const Zero Value = 0

// FromFloat converts f to a Value, rounding half away from zero.
func FromFloat(f float64) Value {
	return Value(math.Round(f * float64(Scale)))
}

// FromInt converts a whole number to a Value.
func FromInt(n int64) Value {
	return Value(n * Scale)
}

// Float converts v back to a float64.
func (v Value) Float() float64 {
	return float64(v) / float64(Scale)
}

// String formats v without trailing zeros, e.g. "280000" or "12.5".
func (v Value) String() string {
	return v.decimal().String()
}

// StringFixed formats v with exactly places fractional digits.
func (v Value) StringFixed(places int32) string {
	return v.decimal().StringFixed(places)
}

func (v Value) decimal() decimal.Decimal {
	return decimal.New(int64(v), -Decimals)
}

// Add returns a+b.
func Add(a, b Value) Value { return a + b }

// Sub returns a-b.
func Sub(a, b Value) Value { return a - b }

// Mul returns a*b rescaled and rounded to the nearest unit.
func Mul(a, b Value) Value {
	p := decimal.New(int64(a), 0).Mul(decimal.New(int64(b), 0))
	return Value(p.DivRound(decimal.New(Scale, 0), 0).IntPart())
}

// MaxValue is the largest representable Value.
const MaxValue Value = math.MaxInt64

// MulInt returns v*n. No rounding is needed.
func MulInt(v Value, n int64) Value {
	return v * Value(n)
}

// MulIntChecked returns v*n, or false when the product does not fit.
func MulIntChecked(v Value, n int64) (Value, bool) {
	if v == 0 || n == 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(magnitude(int64(v)), magnitude(n))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	if (v < 0) != (n < 0) {
		return Value(-int64(lo)), true
	}
	return Value(lo), true
}

// AddChecked returns a+b, or false when the sum does not fit.
func AddChecked(a, b Value) (Value, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func magnitude(x int64) uint64 {
	if x < 0 {
		return uint64(-(x + 1)) + 1
	}
	return uint64(x)
}

// Div returns a/b rescaled and rounded to the nearest unit.
func Div(a, b Value) (Value, error) {
	if b == 0 {
		return 0, apperrors.ErrDivideByZero
	}
	n := decimal.New(int64(a), 0).Mul(decimal.New(Scale, 0))
	return Value(n.DivRound(decimal.New(int64(b), 0), 0).IntPart()), nil
}

// MulDiv returns v*num/den with a single rounding step. It is used for
// proportional cost basis, where rounding twice would leak units.
func MulDiv(v Value, num, den int64) (Value, error) {
	if den == 0 {
		return 0, apperrors.ErrDivideByZero
	}
	n := decimal.New(int64(v), 0).Mul(decimal.New(num, 0))
	return Value(n.DivRound(decimal.New(den, 0), 0).IntPart()), nil
}

// PercentOf returns pct percent of v, where pct is itself a Value
// (FromFloat(0.015) is 0.015%).
func PercentOf(v, pct Value) Value {
	p := decimal.New(int64(v), 0).Mul(decimal.New(int64(pct), 0))
	return Value(p.DivRound(decimal.New(Scale*100, 0), 0).IntPart())
}

// RoundToTick rounds v to the nearest multiple of tick. A non-positive tick
// leaves v unchanged.
func RoundToTick(v, tick Value) Value {
	if tick <= 0 {
		return v
	}
	q := decimal.New(int64(v), 0).DivRound(decimal.New(int64(tick), 0), 0).IntPart()
	return Value(q) * tick
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi Value) Value {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Min returns the smaller of a and b.
func Min(a, b Value) Value {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Value) Value {
	if a > b {
		return a
	}
	return b
}
