package lending

import "github.com/holiman/uint256"

// rewardIndexStep returns the index growth for dt seconds at speed points per
// second shared over total. Indices carry 36 decimals, 18 for points and 18
// for precision, so large pools still advance each second.
func rewardIndexStep(dt uint64, speed, total, minimum *uint256.Int) (*uint256.Int, error) {
	if dt == 0 || speed == nil || speed.IsZero() || total == nil || total.IsZero() {
		return zero(), nil
	}
	if minimum != nil && total.Lt(minimum) {
		return zero(), nil
	}
	emitted, err := mul(speed, u64(dt))
	if err != nil {
		return nil, err
	}
	return MulDiv(emitted, One18DP, total, RoundDown)
}

// accrueRewards advances both reward indices up to now. A side whose total is
// below the pool's minimum amount does not advance.
func (p *LoanPool) accrueRewards(now uint64) error {
	dt := elapsed(p.RewardLastUpdateTimestamp, now)
	if dt == 0 {
		return nil
	}
	debt, err := p.TotalDebt()
	if err != nil {
		return err
	}
	collateralStep, err := rewardIndexStep(dt, p.Config.RewardCollateralSpeed, p.TotalCollateral, p.Config.RewardMinimumAmount)
	if err != nil {
		return err
	}
	borrowStep, err := rewardIndexStep(dt, p.Config.RewardBorrowSpeed, debt, p.Config.RewardMinimumAmount)
	if err != nil {
		return err
	}
	collateralIndex, err := add(p.RewardIndexCollateral, collateralStep)
	if err != nil {
		return err
	}
	borrowIndex, err := add(p.RewardIndexBorrow, borrowStep)
	if err != nil {
		return err
	}
	p.RewardIndexCollateral = collateralIndex
	p.RewardIndexBorrow = borrowIndex
	p.RewardLastUpdateTimestamp = now
	return nil
}

func earned(balance, poolIndex, entryIndex *uint256.Int) (*uint256.Int, error) {
	if entryIndex == nil || !poolIndex.Gt(entryIndex) {
		return zero(), nil
	}
	delta := new(uint256.Int).Sub(poolIndex, entryIndex)
	return MulDiv(balance, delta, One18DP, RoundDown)
}

// accrueCollateral credits points earned by the entry since its last
// snapshot and moves the snapshot to the pool index.
func (r *UserPoolRewards) accrueCollateral(entry *LoanCollateral, pool *LoanPool) error {
	points, err := earned(entry.FBalance, pool.RewardIndexCollateral, entry.RewardIndex)
	if err != nil {
		return err
	}
	total, err := add(r.CollateralPoints, points)
	if err != nil {
		return err
	}
	r.CollateralPoints = total
	entry.RewardIndex = pool.RewardIndexCollateral.Clone()
	return nil
}

func (r *UserPoolRewards) accrueBorrow(entry *LoanBorrow, pool *LoanPool) error {
	points, err := earned(entry.Amount, pool.RewardIndexBorrow, entry.RewardIndex)
	if err != nil {
		return err
	}
	total, err := add(r.BorrowPoints, points)
	if err != nil {
		return err
	}
	r.BorrowPoints = total
	entry.RewardIndex = pool.RewardIndexBorrow.Clone()
	return nil
}

func (r *UserPoolRewards) creditInterestPaid(amount *uint256.Int) error {
	total, err := add(r.InterestPaidPoints, amount)
	if err != nil {
		return err
	}
	r.InterestPaidPoints = total
	return nil
}
