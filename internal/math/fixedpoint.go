package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // funding per token
	AmountConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000} // base units
)

// BPSDenominator is the basis-point scale: 10_000 == 100%.
const BPSDenominator = 10_000

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

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with the given rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Floor (default for fee math)
	RoundUp
	RoundHalfEven
)

// MulDivFloor computes floor(a * b / denominator) without intermediate overflow.
func MulDivFloor(a, b, denominator int64) int64 {
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, denominator, RoundDown)
	putInt128(product)
	return result
}

// ApplyBPS computes floor(amount * bps / 10_000). Fee math is ALWAYS floored:
// rounding dust is captured by the residual share, never created here.
func ApplyBPS(amount, bps int64) int64 {
	return MulDivFloor(amount, bps, BPSDenominator)
}

// PriceOf computes floor(funding * PriceScale / tokens): the effective price
// of a fill in funding base units per token base unit, price-scaled.
func PriceOf(funding, tokens int64) int64 {
	if tokens == 0 {
		return 0
	}
	return MulDivFloor(funding, PriceConfig.Scale, tokens)
}

// SqrtFloor returns floor(sqrt(v)) for non-negative v.
// Pool price-limit math uses this to locate the reserve point of a target price.
func SqrtFloor(v *big.Int) *big.Int {
	return new(big.Int).Sqrt(v)
}
