package lending

import (
	"github.com/holiman/uint256"

	"lendhub/core/types"
)

// LoanCollateral is a collateral position of a loan in a single pool.
type LoanCollateral struct {
	PoolID types.PoolID
	// FBalance is denominated in f-shares of the pool.
	FBalance *uint256.Int
	// RewardIndex snapshots the pool's collateral reward index at the last
	// accrual.
	RewardIndex *uint256.Int
}

// LoanBorrow is a borrow position of a loan in a single pool.
type LoanBorrow struct {
	PoolID types.PoolID
	// Amount is the outstanding principal.
	Amount *uint256.Int
	// Balance is principal plus accrued interest as of the last accrual.
	Balance *uint256.Int
	// LastInterestIndex is the pool variable index for variable borrows and
	// the entry's own compounding index for stable borrows.
	LastInterestIndex *uint256.Int
	// StableInterestRate is the locked annual rate (18dp). Zero marks a
	// variable borrow.
	StableInterestRate        *uint256.Int
	LastStableUpdateTimestamp uint64
	RewardIndex               *uint256.Int
}

// IsStable reports whether the entry carries a stable rate.
func (b *LoanBorrow) IsStable() bool {
	return b.StableInterestRate != nil && !b.StableInterestRate.IsZero()
}

// Interest returns the accrued interest not yet repaid.
func (b *LoanBorrow) Interest() *uint256.Int {
	if b.Balance.Lt(b.Amount) {
		return zero()
	}
	return new(uint256.Int).Sub(b.Balance, b.Amount)
}

func (c *LoanCollateral) clone() *LoanCollateral {
	return &LoanCollateral{
		PoolID:      c.PoolID,
		FBalance:    cloneOrZero(c.FBalance),
		RewardIndex: cloneOrZero(c.RewardIndex),
	}
}

func (b *LoanBorrow) clone() *LoanBorrow {
	return &LoanBorrow{
		PoolID:                    b.PoolID,
		Amount:                    cloneOrZero(b.Amount),
		Balance:                   cloneOrZero(b.Balance),
		LastInterestIndex:         cloneOrZero(b.LastInterestIndex),
		StableInterestRate:        cloneOrZero(b.StableInterestRate),
		LastStableUpdateTimestamp: b.LastStableUpdateTimestamp,
		RewardIndex:               cloneOrZero(b.RewardIndex),
	}
}

// UserLoan is a single loan owned by an account. Collateral and borrow
// entries keep insertion order and hold at most one entry per pool.
type UserLoan struct {
	ID          types.LoanID
	AccountID   types.AccountID
	LoanTypeID  types.LoanTypeID
	Name        string
	Collaterals []*LoanCollateral
	Borrows     []*LoanBorrow

	collateralPos map[types.PoolID]int
	borrowPos     map[types.PoolID]int
}

// Clone returns a deep copy of the loan.
func (l *UserLoan) Clone() *UserLoan {
	if l == nil {
		return nil
	}
	clone := &UserLoan{
		ID:         l.ID,
		AccountID:  l.AccountID,
		LoanTypeID: l.LoanTypeID,
		Name:       l.Name,
	}
	if len(l.Collaterals) > 0 {
		clone.Collaterals = make([]*LoanCollateral, len(l.Collaterals))
		for i, c := range l.Collaterals {
			clone.Collaterals[i] = c.clone()
		}
	}
	if len(l.Borrows) > 0 {
		clone.Borrows = make([]*LoanBorrow, len(l.Borrows))
		for i, b := range l.Borrows {
			clone.Borrows[i] = b.clone()
		}
	}
	return clone
}

// IsEmpty reports whether the loan holds neither collateral nor borrows.
func (l *UserLoan) IsEmpty() bool {
	return len(l.Collaterals) == 0 && len(l.Borrows) == 0
}

func (l *UserLoan) reindex() {
	l.collateralPos = make(map[types.PoolID]int, len(l.Collaterals))
	for i, c := range l.Collaterals {
		l.collateralPos[c.PoolID] = i
	}
	l.borrowPos = make(map[types.PoolID]int, len(l.Borrows))
	for i, b := range l.Borrows {
		l.borrowPos[b.PoolID] = i
	}
}

// Collateral returns the collateral entry for pool, or nil.
func (l *UserLoan) Collateral(pool types.PoolID) *LoanCollateral {
	if l.collateralPos == nil || len(l.collateralPos) != len(l.Collaterals) {
		l.reindex()
	}
	if i, ok := l.collateralPos[pool]; ok {
		return l.Collaterals[i]
	}
	return nil
}

// Borrow returns the borrow entry for pool, or nil.
func (l *UserLoan) Borrow(pool types.PoolID) *LoanBorrow {
	if l.borrowPos == nil || len(l.borrowPos) != len(l.Borrows) {
		l.reindex()
	}
	if i, ok := l.borrowPos[pool]; ok {
		return l.Borrows[i]
	}
	return nil
}

func (l *UserLoan) ensureCollateral(pool types.PoolID, rewardIndex *uint256.Int) *LoanCollateral {
	if entry := l.Collateral(pool); entry != nil {
		return entry
	}
	entry := &LoanCollateral{PoolID: pool, FBalance: zero(), RewardIndex: cloneOrZero(rewardIndex)}
	l.Collaterals = append(l.Collaterals, entry)
	l.collateralPos[pool] = len(l.Collaterals) - 1
	return entry
}

func (l *UserLoan) ensureBorrow(pool types.PoolID, rewardIndex *uint256.Int) *LoanBorrow {
	if entry := l.Borrow(pool); entry != nil {
		return entry
	}
	entry := &LoanBorrow{
		PoolID:             pool,
		Amount:             zero(),
		Balance:            zero(),
		LastInterestIndex:  One18DP.Clone(),
		StableInterestRate: zero(),
		RewardIndex:        cloneOrZero(rewardIndex),
	}
	l.Borrows = append(l.Borrows, entry)
	l.borrowPos[pool] = len(l.Borrows) - 1
	return entry
}

func (l *UserLoan) dropCollateral(pool types.PoolID) {
	for i, c := range l.Collaterals {
		if c.PoolID == pool {
			l.Collaterals = append(l.Collaterals[:i], l.Collaterals[i+1:]...)
			break
		}
	}
	l.collateralPos = nil
}

func (l *UserLoan) dropBorrow(pool types.PoolID) {
	for i, b := range l.Borrows {
		if b.PoolID == pool {
			l.Borrows = append(l.Borrows[:i], l.Borrows[i+1:]...)
			break
		}
	}
	l.borrowPos = nil
}

// UserPoolRewards accumulates reward points earned by an account in a pool
// across all of its loans.
type UserPoolRewards struct {
	AccountID types.AccountID
	PoolID    types.PoolID
	// CollateralPoints and BorrowPoints carry 18 decimals.
	CollateralPoints *uint256.Int
	BorrowPoints     *uint256.Int
	// InterestPaidPoints is the interest repaid in underlying units.
	InterestPaidPoints *uint256.Int
}

// NewUserPoolRewards returns an empty record for account and pool.
func NewUserPoolRewards(account types.AccountID, pool types.PoolID) *UserPoolRewards {
	return &UserPoolRewards{
		AccountID:          account,
		PoolID:             pool,
		CollateralPoints:   zero(),
		BorrowPoints:       zero(),
		InterestPaidPoints: zero(),
	}
}

// Clone returns a deep copy of the record.
func (r *UserPoolRewards) Clone() *UserPoolRewards {
	if r == nil {
		return nil
	}
	return &UserPoolRewards{
		AccountID:          r.AccountID,
		PoolID:             r.PoolID,
		CollateralPoints:   cloneOrZero(r.CollateralPoints),
		BorrowPoints:       cloneOrZero(r.BorrowPoints),
		InterestPaidPoints: cloneOrZero(r.InterestPaidPoints),
	}
}
