// internal/math/fixedpoint.go
package math

import (
	stdmath "math"
	"math/big"
	"sync"

	"PerpRisk/internal/riskerr"
)

// FP is the fixed-point scale shared by every *_fp quantity.
const FP int64 = 1_000_000

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator int64 = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

var (
	maxInt64 = big.NewInt(stdmath.MaxInt64)
	minInt64 = big.NewInt(stdmath.MinInt64)
)

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// Caller owns the result and must return it with Release.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// Release returns a value obtained from MultiplyInt128 to the pool.
func Release(v *big.Int) {
	putInt128(v)
}

// DivideInt128 performs numerator / denominator with rounding.
// Fails with DivisionByZero or MathOverflow when the quotient leaves int64 range.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, error) {
	if denominator == 0 {
		return 0, riskerr.DivisionByZero
	}
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	// QuoRem truncates toward zero, unlike DivMod.
	quotient.QuoRem(numerator, denom, remainder)

	if remainder.Sign() != 0 {
		switch roundingMode {
		case RoundUp:
			// away from zero
			if (remainder.Sign() > 0) == (denominator > 0) {
				quotient.Add(quotient, big.NewInt(1))
			} else {
				quotient.Sub(quotient, big.NewInt(1))
			}
		case RoundFloor:
			if (remainder.Sign() < 0) != (denominator < 0) {
				quotient.Sub(quotient, big.NewInt(1))
			}
		case RoundHalfEven:
			twice := getInt128()
			twice.Abs(remainder)
			twice.Lsh(twice, 1)
			absDen := new(big.Int).Abs(denom)
			cmp := twice.Cmp(absDen)
			putInt128(twice)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				if (numerator.Sign() < 0) != (denominator < 0) {
					quotient.Sub(quotient, big.NewInt(1))
				} else {
					quotient.Add(quotient, big.NewInt(1))
				}
			}
		}
	}

	if quotient.Cmp(maxInt64) > 0 || quotient.Cmp(minInt64) < 0 {
		return 0, riskerr.MathOverflow
	}
	return quotient.Int64(), nil
}

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // toward zero (default for settlement)
	RoundFloor                        // toward negative infinity
	RoundUp                           // away from zero
	RoundHalfEven                     // banker's rounding
)

// --- Checked primitives ---

// Add returns a + b or MathOverflow.
func Add(a, b int64) (int64, error) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, riskerr.MathOverflow
	}
	return c, nil
}

// Sub returns a - b or MathOverflow.
func Sub(a, b int64) (int64, error) {
	c := a - b
	if (c < a) != (b > 0) {
		return 0, riskerr.MathOverflow
	}
	return c, nil
}

// Mul returns a * b or MathOverflow.
func Mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == stdmath.MinInt64) || (b == -1 && a == stdmath.MinInt64) {
		return 0, riskerr.MathOverflow
	}
	return c, nil
}

// Div returns a / b truncated toward zero.
func Div(a, b int64) (int64, error) {
	if b == 0 {
		return 0, riskerr.DivisionByZero
	}
	if a == stdmath.MinInt64 && b == -1 {
		return 0, riskerr.MathOverflow
	}
	return a / b, nil
}

// AddUint64 is the unsigned counterpart used by monotone counters.
func AddUint64(a, b uint64) (uint64, error) {
	c := a + b
	if c < a {
		return 0, riskerr.MathOverflow
	}
	return c, nil
}

// --- Saturating primitives ---

func SaturatingAdd(a, b int64) int64 {
	c, err := Add(a, b)
	if err != nil {
		if b > 0 {
			return stdmath.MaxInt64
		}
		return stdmath.MinInt64
	}
	return c
}

func SaturatingSub(a, b int64) int64 {
	c, err := Sub(a, b)
	if err != nil {
		if b < 0 {
			return stdmath.MaxInt64
		}
		return stdmath.MinInt64
	}
	return c
}

func SaturatingMul(a, b int64) int64 {
	c, err := Mul(a, b)
	if err != nil {
		if (a < 0) == (b < 0) {
			return stdmath.MaxInt64
		}
		return stdmath.MinInt64
	}
	return c
}

// --- Scaled operations ---

// MulDiv computes a * b / c with a 128-bit intermediate, truncating toward zero.
func MulDiv(a, b, c int64) (int64, error) {
	return MulDivRound(a, b, c, RoundDown)
}

// MulDivRound is MulDiv with an explicit rounding mode.
func MulDivRound(a, b, c int64, mode RoundingMode) (int64, error) {
	if c == 0 {
		return 0, riskerr.DivisionByZero
	}
	product := MultiplyInt128(a, b)
	defer putInt128(product)
	return DivideInt128(product, c, mode)
}

// MulFP multiplies two FP values, dividing by FP exactly once.
func MulFP(a, b int64) (int64, error) {
	return MulDiv(a, b, FP)
}

// DivFP divides two FP values, multiplying by FP before the division.
func DivFP(a, b int64) (int64, error) {
	if b == 0 {
		return 0, riskerr.DivisionByZero
	}
	return MulDiv(a, FP, b)
}

// ToFP scales a raw integer into FP.
func ToFP(raw int64) (int64, error) {
	return Mul(raw, FP)
}

// FromFP converts FP to raw units, truncating toward zero.
func FromFP(fp int64) int64 {
	return fp / FP
}

// FloorToRaw converts a non-negative FP amount to raw units; negatives become 0.
// Any remainder below one raw unit is forfeited by the payer.
func FloorToRaw(fp int64) int64 {
	if fp <= 0 {
		return 0
	}
	return fp / FP
}

// BpsOf returns x * bps / 10000 truncated toward zero.
func BpsOf(x, bps int64) (int64, error) {
	return MulDiv(x, bps, BpsDenominator)
}

// DeviationBps returns |a-b| * 10000 / max(a,b) for positive inputs.
func DeviationBps(a, b int64) (int64, error) {
	if a <= 0 || b <= 0 {
		return 0, riskerr.InvalidPrice
	}
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	return MulDiv(hi-lo, BpsDenominator, hi)
}

// Abs returns |x| or MathOverflow for MinInt64.
func Abs(x int64) (int64, error) {
	if x == stdmath.MinInt64 {
		return 0, riskerr.MathOverflow
	}
	if x < 0 {
		return -x, nil
	}
	return x, nil
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi int64) int64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
