package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

// StableRateAverage merges a balance a at rate r1 with an additional amount b
// at rate r2 and returns (a*r1 + b*r2)/(a+b).
func StableRateAverage(a, r1, b, r2 *uint256.Int) (*uint256.Int, error) {
	total, err := add(a, b)
	if err != nil {
		return nil, err
	}
	if total.IsZero() {
		return zero(), nil
	}
	left, err := mul(a, r1)
	if err != nil {
		return nil, err
	}
	right, err := mul(b, r2)
	if err != nil {
		return nil, err
	}
	weighted, err := add(left, right)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(weighted, total), nil
}

// accrue brings the loan's entries in pool up to the pool's already accrued
// indices and credits reward points earned since the last snapshot.
func (l *UserLoan) accrue(pool *LoanPool, rewards *UserPoolRewards, now uint64) error {
	if entry := l.Collateral(pool.PoolID); entry != nil {
		if err := rewards.accrueCollateral(entry, pool); err != nil {
			return err
		}
	}
	entry := l.Borrow(pool.PoolID)
	if entry == nil {
		return nil
	}
	if err := rewards.accrueBorrow(entry, pool); err != nil {
		return err
	}
	balance, err := projectedBorrowBalance(entry, pool, now)
	if err != nil {
		return err
	}
	if entry.IsStable() {
		factor, err := growthFactor(entry.StableInterestRate, elapsed(entry.LastStableUpdateTimestamp, now))
		if err != nil {
			return err
		}
		index, err := MulScale(cloneOrZero(entry.LastInterestIndex), factor, One18DP)
		if err != nil {
			return err
		}
		entry.LastInterestIndex = index
		if now > entry.LastStableUpdateTimestamp {
			entry.LastStableUpdateTimestamp = now
		}
	} else {
		entry.LastInterestIndex = pool.VariableInterestIndex.Clone()
	}
	entry.Balance = balance
	return nil
}

func (l *UserLoan) addCollateral(pool *LoanPool, fAmount *uint256.Int) error {
	entry := l.ensureCollateral(pool.PoolID, pool.RewardIndexCollateral)
	balance, err := add(entry.FBalance, fAmount)
	if err != nil {
		return err
	}
	if err := pool.addCollateral(fAmount); err != nil {
		return err
	}
	entry.FBalance = balance
	return nil
}

// removeCollateral burns fAmount from the pool entry and drops the entry when
// it reaches zero.
func (l *UserLoan) removeCollateral(pool *LoanPool, fAmount *uint256.Int) error {
	entry := l.Collateral(pool.PoolID)
	if entry == nil {
		return fmt.Errorf("%w: pool %d", ErrNoCollateralInLoanForPool, pool.PoolID)
	}
	balance, err := sub(entry.FBalance, fAmount)
	if err != nil {
		return fmt.Errorf("%w: have %s f-shares, need %s", ErrInsufficientCollateral, entry.FBalance, fAmount)
	}
	if err := pool.removeCollateral(fAmount); err != nil {
		return err
	}
	entry.FBalance = balance
	if balance.IsZero() {
		l.dropCollateral(pool.PoolID)
	}
	return nil
}

// increaseBorrow adds amount to the pool entry. A zero stableRate requests a
// variable borrow. The entry must already be accrued to now.
func (l *UserLoan) increaseBorrow(pool *LoanPool, amount, stableRate *uint256.Int, now uint64) error {
	stable := stableRate != nil && !stableRate.IsZero()
	if existing := l.Borrow(pool.PoolID); existing != nil && existing.IsStable() != stable {
		return fmt.Errorf("%w: pool %d", ErrBorrowTypeMismatch, pool.PoolID)
	}
	entry := l.ensureBorrow(pool.PoolID, pool.RewardIndexBorrow)
	balance, err := add(entry.Balance, amount)
	if err != nil {
		return err
	}
	principal, err := add(entry.Amount, amount)
	if err != nil {
		return err
	}
	if !stable {
		if err := pool.addVariablePrincipal(amount); err != nil {
			return err
		}
		entry.LastInterestIndex = pool.VariableInterestIndex.Clone()
		entry.Balance = balance
		entry.Amount = principal
		return nil
	}
	rate, err := StableRateAverage(entry.Balance, entry.StableInterestRate, amount, stableRate)
	if err != nil {
		return err
	}
	if err := pool.replaceStablePrincipal(entry.Amount, entry.StableInterestRate, principal, rate); err != nil {
		return err
	}
	entry.StableInterestRate = rate
	entry.LastStableUpdateTimestamp = now
	entry.Balance = balance
	entry.Amount = principal
	return nil
}

// decreaseBorrow applies amount to accrued interest first and principal
// second. The caller caps amount at the entry balance.
func (l *UserLoan) decreaseBorrow(pool *LoanPool, amount *uint256.Int) (interest, principal *uint256.Int, err error) {
	entry := l.Borrow(pool.PoolID)
	if entry == nil {
		return nil, nil, fmt.Errorf("%w: pool %d", ErrNoBorrowInLoanForPool, pool.PoolID)
	}
	balance, err := sub(entry.Balance, amount)
	if err != nil {
		return nil, nil, err
	}
	interest = minInt(amount, entry.Interest())
	principal = new(uint256.Int).Sub(amount, interest)
	remaining, err := sub(entry.Amount, principal)
	if err != nil {
		return nil, nil, err
	}
	if entry.IsStable() {
		if err := pool.replaceStablePrincipal(entry.Amount, entry.StableInterestRate, remaining, entry.StableInterestRate); err != nil {
			return nil, nil, err
		}
	} else if err := pool.removeVariablePrincipal(principal); err != nil {
		return nil, nil, err
	}
	entry.Balance = balance
	entry.Amount = remaining
	if balance.IsZero() {
		l.dropBorrow(pool.PoolID)
	}
	return interest, principal, nil
}

// switchToStable moves an accrued variable entry onto rate.
func (l *UserLoan) switchToStable(pool *LoanPool, rate *uint256.Int, now uint64) error {
	entry := l.Borrow(pool.PoolID)
	if entry == nil || entry.IsStable() {
		return fmt.Errorf("%w: pool %d", ErrNoVariableBorrowInLoanForPool, pool.PoolID)
	}
	if err := pool.removeVariablePrincipal(entry.Amount); err != nil {
		return err
	}
	if err := pool.replaceStablePrincipal(zero(), zero(), entry.Amount, rate); err != nil {
		return err
	}
	entry.StableInterestRate = rate.Clone()
	entry.LastInterestIndex = One18DP.Clone()
	entry.LastStableUpdateTimestamp = now
	return nil
}

// switchToVariable moves an accrued stable entry onto the pool variable index.
func (l *UserLoan) switchToVariable(pool *LoanPool) error {
	entry := l.Borrow(pool.PoolID)
	if entry == nil || !entry.IsStable() {
		return fmt.Errorf("%w: pool %d", ErrNoStableBorrowInLoanForPool, pool.PoolID)
	}
	if err := pool.replaceStablePrincipal(entry.Amount, entry.StableInterestRate, zero(), zero()); err != nil {
		return err
	}
	if err := pool.addVariablePrincipal(entry.Amount); err != nil {
		return err
	}
	entry.StableInterestRate = zero()
	entry.LastInterestIndex = pool.VariableInterestIndex.Clone()
	entry.LastStableUpdateTimestamp = 0
	return nil
}

// resetStableRate moves an accrued stable entry onto rate without touching
// principal.
func (l *UserLoan) resetStableRate(pool *LoanPool, rate *uint256.Int, now uint64) (*uint256.Int, error) {
	entry := l.Borrow(pool.PoolID)
	if entry == nil || !entry.IsStable() {
		return nil, fmt.Errorf("%w: pool %d", ErrNoStableBorrowInLoanForPool, pool.PoolID)
	}
	previous := entry.StableInterestRate.Clone()
	if err := pool.replaceStablePrincipal(entry.Amount, previous, entry.Amount, rate); err != nil {
		return nil, err
	}
	entry.StableInterestRate = rate.Clone()
	entry.LastStableUpdateTimestamp = now
	return previous, nil
}
