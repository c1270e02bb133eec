package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendhub/core/types"
)

// LoanHealth summarises the dollar values (18dp) of a loan.
type LoanHealth struct {
	CollateralValue          *uint256.Int
	EffectiveCollateralValue *uint256.Int
	BorrowValue              *uint256.Int
	EffectiveBorrowValue     *uint256.Int
	Healthy                  bool
}

// Factor returns effective collateral over effective borrow with four
// decimals. A loan without borrows reports zero.
func (h *LoanHealth) Factor() (*uint256.Int, error) {
	if h.EffectiveBorrowValue.IsZero() {
		return zero(), nil
	}
	return DivScale(h.EffectiveCollateralValue, h.EffectiveBorrowValue, One4DP)
}

type poolLookup func(pool types.PoolID) (*LoanPool, error)

// projectedBorrowBalance returns the entry balance as of now, rounded up.
func projectedBorrowBalance(entry *LoanBorrow, pool *LoanPool, now uint64) (*uint256.Int, error) {
	if entry.IsStable() {
		factor, err := growthFactor(entry.StableInterestRate, elapsed(entry.LastStableUpdateTimestamp, now))
		if err != nil {
			return nil, err
		}
		return MulScaleRoundUp(entry.Balance, factor, One18DP)
	}
	if entry.LastInterestIndex == nil || entry.LastInterestIndex.IsZero() {
		return entry.Balance.Clone(), nil
	}
	index, err := pool.ProjectedVariableIndex(now)
	if err != nil {
		return nil, err
	}
	return MulDiv(entry.Balance, index, entry.LastInterestIndex, RoundUp)
}

func collateralValue(entry *LoanCollateral, pool *LoanPool, prices PriceFeed, now uint64) (value, effective *uint256.Int, err error) {
	index, err := pool.ProjectedDepositIndex(now)
	if err != nil {
		return nil, nil, err
	}
	underlying, err := ToUnderlyingAmount(entry.FBalance, index, RoundDown)
	if err != nil {
		return nil, nil, err
	}
	price, decimals, err := prices.PriceOf(entry.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if value, err = AssetValue(underlying, price, decimals, RoundDown); err != nil {
		return nil, nil, err
	}
	effective, err = MulDiv(value, u64(pool.Config.CollateralFactor), One4DP, RoundDown)
	return value, effective, err
}

func borrowValue(entry *LoanBorrow, pool *LoanPool, prices PriceFeed, now uint64) (value, effective *uint256.Int, err error) {
	balance, err := projectedBorrowBalance(entry, pool, now)
	if err != nil {
		return nil, nil, err
	}
	price, decimals, err := prices.PriceOf(entry.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if value, err = AssetValue(balance, price, decimals, RoundUp); err != nil {
		return nil, nil, err
	}
	effective, err = MulDiv(value, One4DP, u64(pool.Config.BorrowFactor), RoundUp)
	return value, effective, err
}

// evaluateHealth values every entry of the loan at now. Pools are read through
// lookup and never mutated.
func evaluateHealth(loan *UserLoan, lookup poolLookup, prices PriceFeed, now uint64) (*LoanHealth, error) {
	health := &LoanHealth{
		CollateralValue:          zero(),
		EffectiveCollateralValue: zero(),
		BorrowValue:              zero(),
		EffectiveBorrowValue:     zero(),
	}
	var err error
	for _, entry := range loan.Collaterals {
		pool, lerr := lookup(entry.PoolID)
		if lerr != nil {
			return nil, lerr
		}
		value, effective, verr := collateralValue(entry, pool, prices, now)
		if verr != nil {
			return nil, fmt.Errorf("collateral pool %d: %w", entry.PoolID, verr)
		}
		if health.CollateralValue, err = add(health.CollateralValue, value); err != nil {
			return nil, err
		}
		if health.EffectiveCollateralValue, err = add(health.EffectiveCollateralValue, effective); err != nil {
			return nil, err
		}
	}
	for _, entry := range loan.Borrows {
		pool, lerr := lookup(entry.PoolID)
		if lerr != nil {
			return nil, lerr
		}
		value, effective, verr := borrowValue(entry, pool, prices, now)
		if verr != nil {
			return nil, fmt.Errorf("borrow pool %d: %w", entry.PoolID, verr)
		}
		if health.BorrowValue, err = add(health.BorrowValue, value); err != nil {
			return nil, err
		}
		if health.EffectiveBorrowValue, err = add(health.EffectiveBorrowValue, effective); err != nil {
			return nil, err
		}
	}
	health.Healthy = !health.EffectiveBorrowValue.Gt(health.EffectiveCollateralValue)
	return health, nil
}
