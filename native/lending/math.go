package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// SecondsInYear is the annualisation base for every rate in the module.
	SecondsInYear = 31_536_000
	// SecondsInHour is the granularity used when projecting stable balances.
	SecondsInHour = 3_600
)

var (
	One4DP  = uint256.NewInt(1e4)
	One6DP  = uint256.NewInt(1e6)
	One18DP = uint256.NewInt(1e18)

	oneE12 = uint256.NewInt(1e12)
	oneE14 = uint256.NewInt(1e14)
)

// Rounding selects the direction applied to a truncated division.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
)

// MulDiv computes a*b/d with full 512 bit intermediate precision. The result
// must fit in 256 bits.
func MulDiv(a, b, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, ErrDivisionByZero
	}
	if a == nil || b == nil || a.IsZero() || b.IsZero() {
		return new(uint256.Int), nil
	}
	quo, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	if rounding == RoundUp && !new(uint256.Int).MulMod(a, b, d).IsZero() {
		next, carry := new(uint256.Int).AddOverflow(quo, uint256.NewInt(1))
		if carry {
			return nil, ErrArithmeticOverflow
		}
		return next, nil
	}
	return quo, nil
}

// MulScale returns floor(a*b/scale).
func MulScale(a, b, scale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, scale, RoundDown)
}

// MulScaleRoundUp returns ceil(a*b/scale).
func MulScaleRoundUp(a, b, scale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, scale, RoundUp)
}

// DivScale returns floor(a*scale/b).
func DivScale(a, b, scale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, scale, b, RoundDown)
}

// DivScaleRoundUp returns ceil(a*scale/b).
func DivScaleRoundUp(a, b, scale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, scale, b, RoundUp)
}

// ExpBySquaring returns base^n in the fixed-point domain defined by scale.
// Every squaring and multiplication truncates, so the result is reproducible
// bit for bit.
func ExpBySquaring(base *uint256.Int, n uint64, scale *uint256.Int) (*uint256.Int, error) {
	if scale == nil || scale.IsZero() {
		return nil, ErrDivisionByZero
	}
	if n == 0 {
		return scale.Clone(), nil
	}
	x := base.Clone()
	y := scale.Clone()
	var err error
	for n > 1 {
		if n%2 == 0 {
			if x, err = MulScale(x, x, scale); err != nil {
				return nil, err
			}
			n /= 2
			continue
		}
		if y, err = MulScale(x, y, scale); err != nil {
			return nil, err
		}
		if x, err = MulScale(x, x, scale); err != nil {
			return nil, err
		}
		n = (n - 1) / 2
	}
	return MulScale(x, y, scale)
}

func add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return sum, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmeticUnderflow
	}
	return diff, nil
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return product, nil
}

func minInt(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

func zero() *uint256.Int { return new(uint256.Int) }

func u64(v uint64) *uint256.Int { return uint256.NewInt(v) }

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// MaxDecimals is the largest token precision whose scale fits in 256 bits.
const MaxDecimals uint8 = 77

// pow10 returns 10^decimals.
func pow10(decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: 10^%d", ErrArithmeticOverflow, decimals)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))), nil
}

// growthFactor returns the 18dp multiplier applied to an index after dt
// seconds at the supplied annual rate.
func growthFactor(rate *uint256.Int, dt uint64) (*uint256.Int, error) {
	if rate == nil || rate.IsZero() || dt == 0 {
		return One18DP.Clone(), nil
	}
	perSecond := new(uint256.Int).Div(rate, uint256.NewInt(SecondsInYear))
	base, err := add(One18DP, perSecond)
	if err != nil {
		return nil, err
	}
	return ExpBySquaring(base, dt, One18DP)
}

// ToFAmount converts an underlying amount into f-shares at the supplied
// deposit index.
func ToFAmount(amount, depositIndex *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return MulDiv(amount, One18DP, depositIndex, rounding)
}

// ToUnderlyingAmount converts f-shares into the underlying amount at the
// supplied deposit index.
func ToUnderlyingAmount(fAmount, depositIndex *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return MulDiv(fAmount, depositIndex, One18DP, rounding)
}

// AssetValue returns the 18dp dollar value of amount at an 18dp price.
func AssetValue(amount, price *uint256.Int, decimals uint8, rounding Rounding) (*uint256.Int, error) {
	scale, err := pow10(decimals)
	if err != nil {
		return nil, err
	}
	return MulDiv(amount, price, scale, rounding)
}

// ValueToAsset converts an 18dp dollar value back into asset units.
func ValueToAsset(value, price *uint256.Int, decimals uint8, rounding Rounding) (*uint256.Int, error) {
	scale, err := pow10(decimals)
	if err != nil {
		return nil, err
	}
	return MulDiv(value, scale, price, rounding)
}
