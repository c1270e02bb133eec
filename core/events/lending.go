package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendhub/core/types"
)

const (
	// TypeLoanCreated is emitted when a user loan is opened.
	TypeLoanCreated = "lending.loanCreated"
	// TypeLoanDeleted is emitted when an empty user loan is removed.
	TypeLoanDeleted = "lending.loanDeleted"
	// TypeLendingDeposit is emitted for underlying and f-token deposits.
	TypeLendingDeposit = "lending.deposit"
	// TypeLendingWithdraw is emitted for underlying and f-token withdrawals.
	TypeLendingWithdraw = "lending.withdraw"
	TypeLendingBorrow   = "lending.borrow"
	// TypeLendingRepay covers external repayments and repayments funded by
	// collateral.
	TypeLendingRepay = "lending.repay"
	// TypeLendingLiquidate is emitted once per successful liquidation.
	TypeLendingLiquidate = "lending.liquidate"
	// TypeBorrowTypeSwitched is emitted when a borrow changes between variable
	// and stable.
	TypeBorrowTypeSwitched = "lending.borrowTypeSwitched"
	// TypeStableRebalanced is emitted by rebalance up and down.
	TypeStableRebalanced = "lending.rebalanced"
	// TypeLendingConfigUpdated is emitted by admin mutations.
	TypeLendingConfigUpdated = "lending.configUpdated"
)

func formatU256(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatPool(pool types.PoolID) string { return strconv.FormatUint(uint64(pool), 10) }

// LoanCreated reports a newly opened loan.
type LoanCreated struct {
	LoanID     types.LoanID
	AccountID  types.AccountID
	LoanTypeID types.LoanTypeID
	Name       string
}

// EventType satisfies the Event interface.
func (LoanCreated) EventType() string { return TypeLoanCreated }

// Event converts the payload into a broadcastable event.
func (e LoanCreated) Event() *types.Event {
	return types.NewEvent(TypeLoanCreated).
		With("loanId", e.LoanID.String()).
		With("accountId", e.AccountID.String()).
		With("loanTypeId", strconv.FormatUint(uint64(e.LoanTypeID), 10)).
		With("name", e.Name)
}

// LoanDeleted reports a removed loan.
type LoanDeleted struct {
	LoanID    types.LoanID
	AccountID types.AccountID
}

// EventType satisfies the Event interface.
func (LoanDeleted) EventType() string { return TypeLoanDeleted }

// Event converts the payload into a broadcastable event.
func (e LoanDeleted) Event() *types.Event {
	return types.NewEvent(TypeLoanDeleted).
		With("loanId", e.LoanID.String()).
		With("accountId", e.AccountID.String())
}

// LendingDeposit reports collateral added to a loan. Amount is empty for
// f-token deposits.
type LendingDeposit struct {
	LoanID  types.LoanID
	PoolID  types.PoolID
	Amount  *uint256.Int
	FAmount *uint256.Int
}

// EventType satisfies the Event interface.
func (LendingDeposit) EventType() string { return TypeLendingDeposit }

// Event converts the payload into a broadcastable event.
func (e LendingDeposit) Event() *types.Event {
	return types.NewEvent(TypeLendingDeposit).
		With("loanId", e.LoanID.String()).
		With("poolId", formatPool(e.PoolID)).
		With("amount", formatU256(e.Amount)).
		With("fAmount", formatU256(e.FAmount))
}

// LendingWithdraw reports collateral removed from a loan. Amount is zero when
// the f-shares left the loan without being redeemed.
type LendingWithdraw struct {
	LoanID  types.LoanID
	PoolID  types.PoolID
	FAmount *uint256.Int
	Amount  *uint256.Int
}

// EventType satisfies the Event interface.
func (LendingWithdraw) EventType() string { return TypeLendingWithdraw }

// Event converts the payload into a broadcastable event.
func (e LendingWithdraw) Event() *types.Event {
	return types.NewEvent(TypeLendingWithdraw).
		With("loanId", e.LoanID.String()).
		With("poolId", formatPool(e.PoolID)).
		With("fAmount", formatU256(e.FAmount)).
		With("amount", formatU256(e.Amount))
}

// LendingBorrow reports a new borrow. StableRate is zero for variable
// borrows.
type LendingBorrow struct {
	LoanID     types.LoanID
	PoolID     types.PoolID
	Amount     *uint256.Int
	StableRate *uint256.Int
}

// EventType satisfies the Event interface.
func (LendingBorrow) EventType() string { return TypeLendingBorrow }

// Event converts the payload into a broadcastable event.
func (e LendingBorrow) Event() *types.Event {
	return types.NewEvent(TypeLendingBorrow).
		With("loanId", e.LoanID.String()).
		With("poolId", formatPool(e.PoolID)).
		With("amount", formatU256(e.Amount)).
		With("stableRate", formatU256(e.StableRate))
}

// LendingRepay reports a repayment split into principal and interest.
// FAmount is set when the repayment burned collateral.
type LendingRepay struct {
	LoanID    types.LoanID
	PoolID    types.PoolID
	Principal *uint256.Int
	Interest  *uint256.Int
	Excess    *uint256.Int
	FAmount   *uint256.Int
}

// EventType satisfies the Event interface.
func (LendingRepay) EventType() string { return TypeLendingRepay }

// Event converts the payload into a broadcastable event.
func (e LendingRepay) Event() *types.Event {
	evt := types.NewEvent(TypeLendingRepay).
		With("loanId", e.LoanID.String()).
		With("poolId", formatPool(e.PoolID)).
		With("principal", formatU256(e.Principal)).
		With("interest", formatU256(e.Interest)).
		With("excess", formatU256(e.Excess))
	if e.FAmount != nil {
		evt.With("fAmount", formatU256(e.FAmount))
	}
	return evt
}

// LendingLiquidate reports the amounts moved by a liquidation.
type LendingLiquidate struct {
	ViolatorLoanID    types.LoanID
	LiquidatorLoanID  types.LoanID
	CollateralPoolID  types.PoolID
	BorrowPoolID      types.PoolID
	RepayAmount       *uint256.Int
	SeizedFAmount     *uint256.Int
	LiquidatorFAmount *uint256.Int
	ReserveFAmount    *uint256.Int
	BadDebt           *uint256.Int
}

// EventType satisfies the Event interface.
func (LendingLiquidate) EventType() string { return TypeLendingLiquidate }

// Event converts the payload into a broadcastable event.
func (e LendingLiquidate) Event() *types.Event {
	return types.NewEvent(TypeLendingLiquidate).
		With("violatorLoanId", e.ViolatorLoanID.String()).
		With("liquidatorLoanId", e.LiquidatorLoanID.String()).
		With("collateralPoolId", formatPool(e.CollateralPoolID)).
		With("borrowPoolId", formatPool(e.BorrowPoolID)).
		With("repayAmount", formatU256(e.RepayAmount)).
		With("seizedFAmount", formatU256(e.SeizedFAmount)).
		With("liquidatorFAmount", formatU256(e.LiquidatorFAmount)).
		With("reserveFAmount", formatU256(e.ReserveFAmount)).
		With("badDebt", formatU256(e.BadDebt))
}

// BorrowTypeSwitched reports a borrow moving between variable and stable.
type BorrowTypeSwitched struct {
	LoanID     types.LoanID
	PoolID     types.PoolID
	Stable     bool
	StableRate *uint256.Int
}

// EventType satisfies the Event interface.
func (BorrowTypeSwitched) EventType() string { return TypeBorrowTypeSwitched }

// Event converts the payload into a broadcastable event.
func (e BorrowTypeSwitched) Event() *types.Event {
	return types.NewEvent(TypeBorrowTypeSwitched).
		With("loanId", e.LoanID.String()).
		With("poolId", formatPool(e.PoolID)).
		With("stable", strconv.FormatBool(e.Stable)).
		With("stableRate", formatU256(e.StableRate))
}

// StableRebalanced reports a stable borrow moved onto the current stable
// rate. Direction is "up" or "down".
type StableRebalanced struct {
	LoanID    types.LoanID
	PoolID    types.PoolID
	Direction string
	OldRate   *uint256.Int
	NewRate   *uint256.Int
}

// EventType satisfies the Event interface.
func (StableRebalanced) EventType() string { return TypeStableRebalanced }

// Event converts the payload into a broadcastable event.
func (e StableRebalanced) Event() *types.Event {
	return types.NewEvent(TypeStableRebalanced).
		With("loanId", e.LoanID.String()).
		With("poolId", formatPool(e.PoolID)).
		With("direction", e.Direction).
		With("oldRate", formatU256(e.OldRate)).
		With("newRate", formatU256(e.NewRate))
}

// LendingConfigUpdated reports an admin mutation. PoolID is only meaningful
// when HasPool is set.
type LendingConfigUpdated struct {
	Operation  string
	LoanTypeID types.LoanTypeID
	PoolID     types.PoolID
	HasPool    bool
}

// EventType satisfies the Event interface.
func (LendingConfigUpdated) EventType() string { return TypeLendingConfigUpdated }

// Event converts the payload into a broadcastable event.
func (e LendingConfigUpdated) Event() *types.Event {
	evt := types.NewEvent(TypeLendingConfigUpdated).
		With("operation", e.Operation).
		With("loanTypeId", strconv.FormatUint(uint64(e.LoanTypeID), 10))
	if e.HasPool {
		evt.With("poolId", formatPool(e.PoolID))
	}
	return evt
}
