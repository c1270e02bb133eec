package lending

import "github.com/holiman/uint256"

// Utilisation returns totalDebt/totalDeposits with 18 decimals, clamped to
// 1.0. An empty pool reports zero utilisation.
func Utilisation(totalDebt, totalDeposits *uint256.Int) (*uint256.Int, error) {
	if totalDeposits == nil || totalDeposits.IsZero() || totalDebt == nil || totalDebt.IsZero() {
		return zero(), nil
	}
	ut, err := DivScale(totalDebt, totalDeposits, One18DP)
	if err != nil {
		return nil, err
	}
	if ut.Gt(One18DP) {
		return One18DP.Clone(), nil
	}
	return ut, nil
}

// kink evaluates a two segment curve at ut. Below the optimum the curve rises
// from base by slope1; above it, slope2 is spread over the remaining range.
func kink(ut, uopt, base, slope1, slope2 *uint256.Int, inclusive bool) (*uint256.Int, error) {
	below := ut.Lt(uopt)
	if inclusive {
		below = !ut.Gt(uopt)
	}
	if below {
		step, err := MulDiv(ut, slope1, uopt, RoundDown)
		if err != nil {
			return nil, err
		}
		return add(base, step)
	}
	excess, err := sub(ut, uopt)
	if err != nil {
		return nil, err
	}
	span, err := sub(One18DP, uopt)
	if err != nil {
		return nil, err
	}
	step, err := MulDiv(excess, slope2, span, RoundDown)
	if err != nil {
		return nil, err
	}
	rate, err := add(base, slope1)
	if err != nil {
		return nil, err
	}
	return add(rate, step)
}

func rate6(v uint64) *uint256.Int  { return new(uint256.Int).Mul(u64(v), oneE12) }
func ratio4(v uint64) *uint256.Int { return new(uint256.Int).Mul(u64(v), oneE14) }

// VariableBorrowRate returns the annual variable rate (18dp) at utilisation ut.
func (c InterestRateConfig) VariableBorrowRate(ut *uint256.Int) (*uint256.Int, error) {
	return kink(ut, ratio4(c.OptimalUtilisationRatio), rate6(c.Vr0), rate6(c.Vr1), rate6(c.Vr2), false)
}

// StableBorrowRate returns the annual stable rate (18dp) offered to new
// stable borrowers. stableRatio is the pool's stable debt over total debt.
func (c InterestRateConfig) StableBorrowRate(ut, stableRatio *uint256.Int) (*uint256.Int, error) {
	curve, err := kink(ut, ratio4(c.OptimalUtilisationRatio), rate6(c.Sr0), rate6(c.Sr1), rate6(c.Sr2), true)
	if err != nil {
		return nil, err
	}
	rate, err := add(rate6(c.Vr1), curve)
	if err != nil {
		return nil, err
	}
	sopt := ratio4(c.OptimalStableToTotalDebtRatio)
	if stableRatio == nil || !stableRatio.Gt(sopt) {
		return rate, nil
	}
	excess, err := sub(stableRatio, sopt)
	if err != nil {
		return nil, err
	}
	span, err := sub(One18DP, sopt)
	if err != nil {
		return nil, err
	}
	premium, err := MulDiv(excess, rate6(c.Sr3), span, RoundDown)
	if err != nil {
		return nil, err
	}
	return add(rate, premium)
}

// OverallBorrowRate is the debt weighted mean of the variable rate and the
// average stable rate.
func OverallBorrowRate(totalVariable, totalStable, variableRate, averageStable *uint256.Int) (*uint256.Int, error) {
	totalDebt, err := add(totalVariable, totalStable)
	if err != nil {
		return nil, err
	}
	if totalDebt.IsZero() {
		return zero(), nil
	}
	weightedVariable, err := mul(totalVariable, variableRate)
	if err != nil {
		return nil, err
	}
	weightedStable, err := mul(totalStable, averageStable)
	if err != nil {
		return nil, err
	}
	weighted, err := add(weightedVariable, weightedStable)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(weighted, totalDebt), nil
}

// DepositRate returns overall*ut*(1-retention), rounded down at each step.
func (c InterestRateConfig) DepositRate(overall, ut *uint256.Int) (*uint256.Int, error) {
	gross, err := MulScale(overall, ut, One18DP)
	if err != nil {
		return nil, err
	}
	if c.RetentionRate >= maxRate6DP {
		return zero(), nil
	}
	return MulDiv(gross, u64(maxRate6DP-c.RetentionRate), One6DP, RoundDown)
}

// CompoundIndex grows index by rate over dt seconds.
func CompoundIndex(index, rate *uint256.Int, dt uint64) (*uint256.Int, error) {
	factor, err := growthFactor(rate, dt)
	if err != nil {
		return nil, err
	}
	return MulScale(index, factor, One18DP)
}

// ProjectStableBalance projects a stable balance forward by dt seconds using
// hourly compounding for whole hours and per-second compounding for the
// remainder. The result is rounded up.
func ProjectStableBalance(balance, rate *uint256.Int, dt uint64) (*uint256.Int, error) {
	if balance == nil || balance.IsZero() {
		return zero(), nil
	}
	factor := One18DP.Clone()
	if hours := dt / SecondsInHour; hours > 0 && rate != nil && !rate.IsZero() {
		perHour, err := MulDiv(rate, u64(SecondsInHour), u64(SecondsInYear), RoundDown)
		if err != nil {
			return nil, err
		}
		base, err := add(One18DP, perHour)
		if err != nil {
			return nil, err
		}
		if factor, err = ExpBySquaring(base, hours, One18DP); err != nil {
			return nil, err
		}
	}
	rest, err := growthFactor(rate, dt%SecondsInHour)
	if err != nil {
		return nil, err
	}
	if factor, err = MulScale(factor, rest, One18DP); err != nil {
		return nil, err
	}
	return MulScaleRoundUp(balance, factor, One18DP)
}
