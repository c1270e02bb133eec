package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDivRounding(t *testing.T) {
	tests := []struct {
		name     string
		a, b, d  uint64
		rounding Rounding
		want     uint64
	}{
		{name: "down truncates", a: 10, b: 1, d: 3, rounding: RoundDown, want: 3},
		{name: "up rounds remainder", a: 10, b: 1, d: 3, rounding: RoundUp, want: 4},
		{name: "up exact", a: 9, b: 1, d: 3, rounding: RoundUp, want: 3},
		{name: "zero operand", a: 0, b: 7, d: 3, rounding: RoundUp, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MulDiv(uint256.NewInt(tc.a), uint256.NewInt(tc.b), uint256.NewInt(tc.d), tc.rounding)
			if err != nil {
				t.Fatalf("muldiv: %v", err)
			}
			if got.Uint64() != tc.want {
				t.Fatalf("expected %d, got %s", tc.want, got)
			}
		})
	}
}

func TestMulDivFaults(t *testing.T) {
	if _, err := MulDiv(uint256.NewInt(1), uint256.NewInt(1), zero(), RoundDown); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	maxU := new(uint256.Int).SetAllOne()
	if _, err := MulDiv(maxU, maxU, uint256.NewInt(1), RoundDown); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if _, err := add(maxU, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
	if _, err := sub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected ErrArithmeticUnderflow, got %v", err)
	}
	// The 512 bit intermediate keeps large products exact.
	got, err := MulDiv(maxU, uint256.NewInt(3), uint256.NewInt(3), RoundDown)
	if err != nil || !got.Eq(maxU) {
		t.Fatalf("expected max round trip, got %v %v", got, err)
	}
}

func TestAssetValueDecimalsBound(t *testing.T) {
	price := new(uint256.Int).Set(One18DP)
	if _, err := AssetValue(uint256.NewInt(1), price, MaxDecimals+3, RoundDown); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if _, err := ValueToAsset(One18DP, price, 255, RoundUp); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	got, err := AssetValue(uint256.NewInt(1), price, MaxDecimals, RoundUp)
	if err != nil {
		t.Fatalf("asset value at max decimals: %v", err)
	}
	if !got.Eq(uint256.NewInt(1)) {
		t.Fatalf("expected 1, got %s", got)
	}

	feed := NewStaticPriceFeed()
	if err := feed.Set(1, price, MaxDecimals+1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := feed.PriceOf(1); err == nil {
		t.Fatalf("rejected price was recorded")
	}
}

func TestRewardIndexScale(t *testing.T) {
	step, err := rewardIndexStep(1, One18DP, uint256.NewInt(1), nil)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	want := new(uint256.Int).Mul(One18DP, One18DP)
	if !step.Eq(want) {
		t.Fatalf("expected a 36 decimal step %s, got %s", want, step)
	}
	points, err := earned(uint256.NewInt(1), step, zero())
	if err != nil {
		t.Fatalf("earned: %v", err)
	}
	if !points.Eq(One18DP) {
		t.Fatalf("expected one whole point, got %s", points)
	}

	// One point a second over a million ether still moves the index.
	step, err = rewardIndexStep(1, One18DP, eth(1_000_000), nil)
	if err != nil || step.IsZero() {
		t.Fatalf("expected a non-zero step, got %v %v", step, err)
	}
}

func TestExpBySquaring(t *testing.T) {
	tests := []struct {
		base string
		n    uint64
		want string
	}{
		{base: "2000000000000000000", n: 0, want: "1000000000000000000"},
		{base: "2000000000000000000", n: 1, want: "2000000000000000000"},
		{base: "2000000000000000000", n: 10, want: "1024000000000000000000"},
		{base: "1500000000000000000", n: 2, want: "2250000000000000000"},
		{base: "1500000000000000000", n: 3, want: "3375000000000000000"},
	}
	for _, tc := range tests {
		got, err := ExpBySquaring(dec(t, tc.base), tc.n, One18DP)
		if err != nil {
			t.Fatalf("exp %s^%d: %v", tc.base, tc.n, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("exp %s^%d: expected %s, got %s", tc.base, tc.n, tc.want, got.Dec())
		}
	}
}

func TestFAmountConversions(t *testing.T) {
	index := dec(t, "1050000000000000000")
	down, err := ToFAmount(uint256.NewInt(1000), index, RoundDown)
	if err != nil {
		t.Fatalf("to f amount: %v", err)
	}
	up, err := ToFAmount(uint256.NewInt(1000), index, RoundUp)
	if err != nil {
		t.Fatalf("to f amount: %v", err)
	}
	if down.Uint64() != 952 || up.Uint64() != 953 {
		t.Fatalf("expected 952/953 f-shares, got %s/%s", down, up)
	}
	underlying, err := ToUnderlyingAmount(down, index, RoundDown)
	if err != nil {
		t.Fatalf("to underlying: %v", err)
	}
	if underlying.Uint64() != 999 {
		t.Fatalf("expected 999 underlying, got %s", underlying)
	}

	value, err := AssetValue(usdc(250), One18DP, 6, RoundDown)
	if err != nil {
		t.Fatalf("asset value: %v", err)
	}
	if !value.Eq(eth(250)) {
		t.Fatalf("expected $250 at 18 decimals, got %s", value)
	}
	back, err := ValueToAsset(value, One18DP, 6, RoundUp)
	if err != nil || !back.Eq(usdc(250)) {
		t.Fatalf("expected 250 usdc, got %v %v", back, err)
	}
}

func TestGrowthFactorZeroRate(t *testing.T) {
	index, err := CompoundIndex(One18DP, zero(), 3_600)
	if err != nil {
		t.Fatalf("compound: %v", err)
	}
	if !index.Eq(One18DP) {
		t.Fatalf("expected unchanged index, got %s", index)
	}
}
