package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendhub/core/types"
)

// LoanPool is the accounting state of one pool inside one loan type.
type LoanPool struct {
	LoanTypeID types.LoanTypeID
	PoolID     types.PoolID
	Config     LoanPoolConfig
	Interest   InterestRateConfig

	// TotalCollateral is the sum of f-shares pledged by loans.
	TotalCollateral *uint256.Int
	// CirculatingFAmount counts f-shares backed by the pool but held outside
	// loans, such as withdrawn f-tokens and minted reserves.
	CirculatingFAmount *uint256.Int
	// TotalVariableBorrow and TotalStableBorrow are principal sums.
	TotalVariableBorrow *uint256.Int
	TotalStableBorrow   *uint256.Int

	VariableInterestIndex *uint256.Int
	DepositInterestIndex  *uint256.Int

	VariableInterestRate      *uint256.Int
	StableInterestRate        *uint256.Int
	DepositInterestRate       *uint256.Int
	AverageStableInterestRate *uint256.Int
	LastUpdateTimestamp       uint64

	TotalRetainedAmount *uint256.Int
	// ReserveFAmount is the cumulative f-shares minted to the fee recipient
	// by liquidations.
	ReserveFAmount *uint256.Int

	RewardIndexCollateral     *uint256.Int
	RewardIndexBorrow         *uint256.Int
	RewardLastUpdateTimestamp uint64
}

// NewLoanPool returns an empty pool with unit indices and rates derived from
// the interest configuration.
func NewLoanPool(typeID types.LoanTypeID, poolID types.PoolID, cfg LoanPoolConfig, interest InterestRateConfig, now uint64) (*LoanPool, error) {
	pool := &LoanPool{
		LoanTypeID:                typeID,
		PoolID:                    poolID,
		Config:                    cfg.Clone(),
		Interest:                  interest,
		TotalCollateral:           zero(),
		CirculatingFAmount:        zero(),
		TotalVariableBorrow:       zero(),
		TotalStableBorrow:         zero(),
		VariableInterestIndex:     One18DP.Clone(),
		DepositInterestIndex:      One18DP.Clone(),
		AverageStableInterestRate: zero(),
		LastUpdateTimestamp:       now,
		TotalRetainedAmount:       zero(),
		ReserveFAmount:            zero(),
		RewardIndexCollateral:     zero(),
		RewardIndexBorrow:         zero(),
		RewardLastUpdateTimestamp: now,
	}
	if err := pool.UpdateRates(); err != nil {
		return nil, err
	}
	return pool, nil
}

// Clone returns a deep copy of the pool.
func (p *LoanPool) Clone() *LoanPool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Config = p.Config.Clone()
	clone.TotalCollateral = cloneOrZero(p.TotalCollateral)
	clone.CirculatingFAmount = cloneOrZero(p.CirculatingFAmount)
	clone.TotalVariableBorrow = cloneOrZero(p.TotalVariableBorrow)
	clone.TotalStableBorrow = cloneOrZero(p.TotalStableBorrow)
	clone.VariableInterestIndex = cloneOrZero(p.VariableInterestIndex)
	clone.DepositInterestIndex = cloneOrZero(p.DepositInterestIndex)
	clone.VariableInterestRate = cloneOrZero(p.VariableInterestRate)
	clone.StableInterestRate = cloneOrZero(p.StableInterestRate)
	clone.DepositInterestRate = cloneOrZero(p.DepositInterestRate)
	clone.AverageStableInterestRate = cloneOrZero(p.AverageStableInterestRate)
	clone.TotalRetainedAmount = cloneOrZero(p.TotalRetainedAmount)
	clone.ReserveFAmount = cloneOrZero(p.ReserveFAmount)
	clone.RewardIndexCollateral = cloneOrZero(p.RewardIndexCollateral)
	clone.RewardIndexBorrow = cloneOrZero(p.RewardIndexBorrow)
	return &clone
}

// TotalDebt returns the principal borrowed from the pool.
func (p *LoanPool) TotalDebt() (*uint256.Int, error) {
	return add(p.TotalVariableBorrow, p.TotalStableBorrow)
}

// TotalDeposits returns the underlying backing every outstanding f-share.
func (p *LoanPool) TotalDeposits() (*uint256.Int, error) {
	shares, err := add(p.TotalCollateral, p.CirculatingFAmount)
	if err != nil {
		return nil, err
	}
	return ToUnderlyingAmount(shares, p.DepositInterestIndex, RoundDown)
}

// AvailableLiquidity returns deposits minus debt, floored at zero.
func (p *LoanPool) AvailableLiquidity() (*uint256.Int, error) {
	deposits, err := p.TotalDeposits()
	if err != nil {
		return nil, err
	}
	debt, err := p.TotalDebt()
	if err != nil {
		return nil, err
	}
	if debt.Gt(deposits) {
		return zero(), nil
	}
	return new(uint256.Int).Sub(deposits, debt), nil
}

// Utilisation returns the current debt over deposits ratio (18dp).
func (p *LoanPool) Utilisation() (*uint256.Int, error) {
	deposits, err := p.TotalDeposits()
	if err != nil {
		return nil, err
	}
	debt, err := p.TotalDebt()
	if err != nil {
		return nil, err
	}
	return Utilisation(debt, deposits)
}

func (p *LoanPool) stableRatio() (*uint256.Int, error) {
	debt, err := p.TotalDebt()
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return zero(), nil
	}
	return DivScale(p.TotalStableBorrow, debt, One18DP)
}

func (p *LoanPool) overallBorrowRate() (*uint256.Int, error) {
	return OverallBorrowRate(p.TotalVariableBorrow, p.TotalStableBorrow, cloneOrZero(p.VariableInterestRate), p.AverageStableInterestRate)
}

// UpdateRates recomputes the cached variable, stable and deposit rates from
// the current totals.
func (p *LoanPool) UpdateRates() error {
	ut, err := p.Utilisation()
	if err != nil {
		return err
	}
	variable, err := p.Interest.VariableBorrowRate(ut)
	if err != nil {
		return err
	}
	ratio, err := p.stableRatio()
	if err != nil {
		return err
	}
	stable, err := p.Interest.StableBorrowRate(ut, ratio)
	if err != nil {
		return err
	}
	overall, err := OverallBorrowRate(p.TotalVariableBorrow, p.TotalStableBorrow, variable, p.AverageStableInterestRate)
	if err != nil {
		return err
	}
	deposit, err := p.Interest.DepositRate(overall, ut)
	if err != nil {
		return err
	}
	p.VariableInterestRate = variable
	p.StableInterestRate = stable
	p.DepositInterestRate = deposit
	return nil
}

func elapsed(last, now uint64) uint64 {
	if now <= last {
		return 0
	}
	return now - last
}

// ProjectedVariableIndex returns the variable index as it would be after
// accruing to now, without mutating the pool.
func (p *LoanPool) ProjectedVariableIndex(now uint64) (*uint256.Int, error) {
	return CompoundIndex(p.VariableInterestIndex, p.VariableInterestRate, elapsed(p.LastUpdateTimestamp, now))
}

// ProjectedDepositIndex returns the deposit index as it would be after
// accruing to now, without mutating the pool.
func (p *LoanPool) ProjectedDepositIndex(now uint64) (*uint256.Int, error) {
	return CompoundIndex(p.DepositInterestIndex, p.DepositInterestRate, elapsed(p.LastUpdateTimestamp, now))
}

// Accrue compounds the interest indices, grows the retained amount and
// advances the reward indices up to now. Calling it twice with the same now
// is a no-op.
func (p *LoanPool) Accrue(now uint64) error {
	if dt := elapsed(p.LastUpdateTimestamp, now); dt > 0 {
		variableIndex, err := p.ProjectedVariableIndex(now)
		if err != nil {
			return err
		}
		depositIndex, err := p.ProjectedDepositIndex(now)
		if err != nil {
			return err
		}
		retained, err := p.retainedOver(dt)
		if err != nil {
			return err
		}
		total, err := add(p.TotalRetainedAmount, retained)
		if err != nil {
			return err
		}
		p.VariableInterestIndex = variableIndex
		p.DepositInterestIndex = depositIndex
		p.TotalRetainedAmount = total
		p.LastUpdateTimestamp = now
	}
	return p.accrueRewards(now)
}

func (p *LoanPool) retainedOver(dt uint64) (*uint256.Int, error) {
	if p.Interest.RetentionRate == 0 {
		return zero(), nil
	}
	debt, err := p.TotalDebt()
	if err != nil || debt.IsZero() {
		return zero(), err
	}
	overall, err := p.overallBorrowRate()
	if err != nil {
		return nil, err
	}
	scaledRate, err := mul(overall, u64(dt))
	if err != nil {
		return nil, err
	}
	interest, err := MulDiv(debt, scaledRate, new(uint256.Int).Mul(u64(SecondsInYear), One18DP), RoundDown)
	if err != nil {
		return nil, err
	}
	return MulDiv(interest, u64(p.Interest.RetentionRate), One6DP, RoundDown)
}

func (p *LoanPool) addCollateral(fAmount *uint256.Int) error {
	total, err := add(p.TotalCollateral, fAmount)
	if err != nil {
		return err
	}
	p.TotalCollateral = total
	return nil
}

func (p *LoanPool) removeCollateral(fAmount *uint256.Int) error {
	total, err := sub(p.TotalCollateral, fAmount)
	if err != nil {
		return err
	}
	p.TotalCollateral = total
	return nil
}

// checkStableShare limits a single stable borrow to a share of the liquidity
// still available.
func (p *LoanPool) checkStableShare(amount *uint256.Int) error {
	available, err := p.AvailableLiquidity()
	if err != nil {
		return err
	}
	limit, err := MulDiv(available, u64(p.Interest.StableBorrowPercentageCap), One4DP, RoundDown)
	if err != nil {
		return err
	}
	if amount.Gt(limit) {
		return fmt.Errorf("%w: amount %s above %s", ErrStableBorrowPercentageCapExceeded, amount.Dec(), limit.Dec())
	}
	return nil
}

// releaseCirculating moves f-shares from circulation back into loans. Only
// shares this pool put into circulation can come back.
func (p *LoanPool) releaseCirculating(fAmount *uint256.Int) error {
	if fAmount.Gt(p.CirculatingFAmount) {
		return fmt.Errorf("%w: %s f-shares exceed %s in circulation", ErrInsufficientCollateral, fAmount.Dec(), p.CirculatingFAmount.Dec())
	}
	p.CirculatingFAmount = new(uint256.Int).Sub(p.CirculatingFAmount, fAmount)
	return nil
}

func (p *LoanPool) addCirculating(fAmount *uint256.Int) error {
	total, err := add(p.CirculatingFAmount, fAmount)
	if err != nil {
		return err
	}
	p.CirculatingFAmount = total
	return nil
}

func (p *LoanPool) addVariablePrincipal(amount *uint256.Int) error {
	total, err := add(p.TotalVariableBorrow, amount)
	if err != nil {
		return err
	}
	p.TotalVariableBorrow = total
	return nil
}

func (p *LoanPool) removeVariablePrincipal(amount *uint256.Int) error {
	total, err := sub(p.TotalVariableBorrow, amount)
	if err != nil {
		return err
	}
	p.TotalVariableBorrow = total
	return nil
}

// replaceStablePrincipal swaps an entry's contribution to the stable totals
// and keeps AverageStableInterestRate principal weighted.
func (p *LoanPool) replaceStablePrincipal(oldPrincipal, oldRate, newPrincipal, newRate *uint256.Int) error {
	weighted, err := mul(p.TotalStableBorrow, p.AverageStableInterestRate)
	if err != nil {
		return err
	}
	outgoing, err := mul(oldPrincipal, oldRate)
	if err != nil {
		return err
	}
	if outgoing.Gt(weighted) {
		weighted = zero()
	} else {
		weighted = new(uint256.Int).Sub(weighted, outgoing)
	}
	incoming, err := mul(newPrincipal, newRate)
	if err != nil {
		return err
	}
	if weighted, err = add(weighted, incoming); err != nil {
		return err
	}
	total, err := sub(p.TotalStableBorrow, oldPrincipal)
	if err != nil {
		return err
	}
	if total, err = add(total, newPrincipal); err != nil {
		return err
	}
	p.TotalStableBorrow = total
	if total.IsZero() {
		p.AverageStableInterestRate = zero()
		return nil
	}
	p.AverageStableInterestRate = new(uint256.Int).Div(weighted, total)
	return nil
}

// checkLiquidity fails when debt exceeds deposits.
func (p *LoanPool) checkLiquidity() error {
	deposits, err := p.TotalDeposits()
	if err != nil {
		return err
	}
	debt, err := p.TotalDebt()
	if err != nil {
		return err
	}
	if debt.Gt(deposits) {
		return ErrInsufficientLiquidity
	}
	return nil
}
