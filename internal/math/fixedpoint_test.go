package math_test

import (
	fpmath "CurveDesk/internal/math"
	"math/big"
	"testing"
)

func TestMulDivFloor_Floors(t *testing.T) {
	// 7 * 3 / 2 = 10.5 -> 10
	if got := fpmath.MulDivFloor(7, 3, 2); got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

func TestMulDivFloor_NoOverflow(t *testing.T) {
	// 2^62 * 3 overflows int64; big.Int intermediate must not
	a := int64(1) << 62
	got := fpmath.MulDivFloor(a, 3, 3)
	if got != a {
		t.Errorf("got %d, want %d", got, a)
	}
}

func TestApplyBPS(t *testing.T) {
	cases := []struct {
		amount, bps, want int64
	}{
		{1_000_000_000, 100, 10_000_000}, // 1% of 1.0
		{1, 100, 0},                      // floors to zero
		{333, 5000, 166},                 // floor(166.5)
		{0, 10_000, 0},
	}
	for _, c := range cases {
		if got := fpmath.ApplyBPS(c.amount, c.bps); got != c.want {
			t.Errorf("ApplyBPS(%d, %d) = %d, want %d", c.amount, c.bps, got, c.want)
		}
	}
}

func TestDivideInt128_RoundUp(t *testing.T) {
	n := big.NewInt(7)
	if got := fpmath.DivideInt128(n, 2, fpmath.RoundUp); got != 4 {
		t.Errorf("got %d, want 4", got)
	}
	n = big.NewInt(8)
	if got := fpmath.DivideInt128(n, 2, fpmath.RoundUp); got != 4 {
		t.Errorf("exact division should not round up: got %d, want 4", got)
	}
}

func TestPriceOf(t *testing.T) {
	// 2 funding units for 1 token unit -> price 2.0 at scale 1e6
	if got := fpmath.PriceOf(2, 1); got != 2_000_000 {
		t.Errorf("got %d, want 2_000_000", got)
	}
	if got := fpmath.PriceOf(100, 0); got != 0 {
		t.Errorf("zero tokens should quote zero, got %d", got)
	}
}

func TestSqrtFloor(t *testing.T) {
	if got := fpmath.SqrtFloor(big.NewInt(17)).Int64(); got != 4 {
		t.Errorf("got %d, want 4", got)
	}
}
