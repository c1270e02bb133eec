package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendhub/core/events"
	"lendhub/core/types"
)

// LiquidationParams describes a liquidation request. The liquidator takes
// over RepayAmount of the violator's borrow in BorrowPoolID and receives
// collateral from CollateralPoolID, both inside its own loan.
type LiquidationParams struct {
	ViolatorLoanID      types.LoanID
	LiquidatorLoanID    types.LoanID
	LiquidatorAccountID types.AccountID
	CollateralPoolID    types.PoolID
	BorrowPoolID        types.PoolID
	RepayAmount         *uint256.Int
	// MinSeizedAmount is the smallest f-share amount the liquidator accepts.
	MinSeizedAmount *uint256.Int
}

// LiquidationResult reports the amounts moved by a liquidation.
type LiquidationResult struct {
	RepayAmount       *uint256.Int
	SeizedFAmount     *uint256.Int
	LiquidatorFAmount *uint256.Int
	ReserveFAmount    *uint256.Int
	// BadDebt is the violator's remaining borrow balance once it has no
	// collateral left, zero otherwise.
	BadDebt *uint256.Int
}

// MaxLiquidationRepay returns the dollar repayment (18dp) that brings a loan
// with the supplied effective values back to targetHealth when the seized
// collateral carries bonus and is weighted by collateralFactor. ok is false
// when no repayment can reach the target, in which case the repayment is not
// capped.
func MaxLiquidationRepay(effectiveCollateral, effectiveBorrow *uint256.Int, targetHealth, borrowFactor, collateralFactor, bonus uint64) (value *uint256.Int, ok bool, err error) {
	if borrowFactor == 0 {
		return nil, false, ErrDivisionByZero
	}
	borrowWeight := new(uint256.Int).Div(new(uint256.Int).Mul(u64(targetHealth), uint256.NewInt(1e8)), u64(borrowFactor))
	seizeWeight := new(uint256.Int).Mul(u64(maxBps4+bonus), u64(collateralFactor))
	if !borrowWeight.Gt(seizeWeight) {
		return nil, false, nil
	}
	target, err := mul(effectiveBorrow, new(uint256.Int).Mul(u64(targetHealth), One4DP))
	if err != nil {
		return nil, false, err
	}
	current, err := mul(effectiveCollateral, uint256.NewInt(1e8))
	if err != nil {
		return nil, false, err
	}
	if !target.Gt(current) {
		return zero(), true, nil
	}
	shortfall := new(uint256.Int).Sub(target, current)
	value, err = MulDiv(shortfall, uint256.NewInt(1), new(uint256.Int).Sub(borrowWeight, seizeWeight), RoundUp)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// splitSeized divides seized f-shares into the liquidator's part and the part
// of the bonus minted to the reserve.
func splitSeized(seizeF *uint256.Int, bonus, fee uint64) (liquidatorF, reserveF *uint256.Int, err error) {
	base, err := MulDiv(seizeF, One4DP, u64(maxBps4+bonus), RoundDown)
	if err != nil {
		return nil, nil, err
	}
	bonusF := new(uint256.Int).Sub(seizeF, base)
	if reserveF, err = MulDiv(bonusF, u64(fee), One4DP, RoundUp); err != nil {
		return nil, nil, err
	}
	return new(uint256.Int).Sub(seizeF, reserveF), reserveF, nil
}

// Liquidate transfers part of an unhealthy loan's borrow and collateral to the
// liquidator's loan.
func (e *Engine) Liquidate(params LiquidationParams) (*LiquidationResult, error) {
	if err := requirePositive(params.RepayAmount); err != nil {
		return nil, err
	}
	if params.ViolatorLoanID == params.LiquidatorLoanID {
		return nil, ErrSameLoan
	}
	var (
		result   *LiquidationResult
		loanType types.LoanTypeID
	)
	err := e.mutate("liquidate", func(c *call) error {
		violator, err := c.userLoan(params.ViolatorLoanID)
		if err != nil {
			return err
		}
		liquidator, err := c.ownedLoan(params.LiquidatorLoanID, params.LiquidatorAccountID)
		if err != nil {
			return err
		}
		if violator.LoanTypeID != liquidator.LoanTypeID {
			return fmt.Errorf("%w: %d and %d", ErrLoanTypeMismatch, violator.LoanTypeID, liquidator.LoanTypeID)
		}
		loanType = violator.LoanTypeID
		lt, err := c.loanType(loanType)
		if err != nil {
			return err
		}
		debt := violator.Borrow(params.BorrowPoolID)
		if debt == nil {
			return fmt.Errorf("%w: pool %d", ErrNoBorrowInLoanForPool, params.BorrowPoolID)
		}
		if violator.Collateral(params.CollateralPoolID) == nil {
			return fmt.Errorf("%w: pool %d", ErrNoCollateralInLoanForPool, params.CollateralPoolID)
		}
		if existing := liquidator.Borrow(params.BorrowPoolID); existing != nil && existing.IsStable() != debt.IsStable() {
			return fmt.Errorf("%w: liquidator pool %d", ErrBorrowTypeMismatch, params.BorrowPoolID)
		}

		collPool, err := c.accruedPool(loanType, params.CollateralPoolID)
		if err != nil {
			return err
		}
		borrowPool, err := c.accruedPool(loanType, params.BorrowPoolID)
		if err != nil {
			return err
		}
		for _, loan := range []*UserLoan{violator, liquidator} {
			for _, pool := range []*LoanPool{collPool, borrowPool} {
				if err := c.accrueLoan(loan, pool); err != nil {
					return err
				}
			}
		}

		health, err := c.health(violator)
		if err != nil {
			return err
		}
		if health.Healthy {
			return fmt.Errorf("%w: loan %s", ErrOverCollateralizedLoan, violator.ID)
		}

		debt = violator.Borrow(params.BorrowPoolID)
		stableRate := cloneOrZero(debt.StableInterestRate)
		repay := minInt(params.RepayAmount, debt.Balance)
		bPrice, bDecimals, err := c.engine.prices.PriceOf(params.BorrowPoolID)
		if err != nil {
			return err
		}
		cPrice, cDecimals, err := c.engine.prices.PriceOf(params.CollateralPoolID)
		if err != nil {
			return err
		}
		maxValue, capped, err := MaxLiquidationRepay(health.EffectiveCollateralValue, health.EffectiveBorrowValue,
			lt.LoanTargetHealth, borrowPool.Config.BorrowFactor, collPool.Config.CollateralFactor, collPool.Config.LiquidationBonus)
		if err != nil {
			return err
		}
		if capped {
			maxRepay, err := ValueToAsset(maxValue, bPrice, bDecimals, RoundUp)
			if err != nil {
				return err
			}
			repay = minInt(repay, maxRepay)
		}
		if repay.IsZero() {
			return ErrInvalidAmount
		}

		bonus := collPool.Config.LiquidationBonus
		seizeF, err := seizedFor(repay, bPrice, bDecimals, cPrice, cDecimals, bonus, collPool.DepositInterestIndex)
		if err != nil {
			return err
		}
		if available := violator.Collateral(params.CollateralPoolID).FBalance; seizeF.Gt(available) {
			seizeF = available.Clone()
			// Never more than the clamped request.
			clamped := repay
			if repay, err = repayFor(seizeF, bPrice, bDecimals, cPrice, cDecimals, bonus, collPool.DepositInterestIndex); err != nil {
				return err
			}
			repay = minInt(repay, clamped)
		}
		liquidatorF, reserveF, err := splitSeized(seizeF, bonus, collPool.Config.LiquidationFee)
		if err != nil {
			return err
		}
		if params.MinSeizedAmount != nil && liquidatorF.Lt(params.MinSeizedAmount) {
			return fmt.Errorf("%w: %s below %s", ErrInsufficientSeized, liquidatorF.Dec(), params.MinSeizedAmount.Dec())
		}

		interest, _, err := violator.decreaseBorrow(borrowPool, repay)
		if err != nil {
			return err
		}
		if err := c.creditInterest(violator, borrowPool, interest); err != nil {
			return err
		}
		if err := violator.removeCollateral(collPool, seizeF); err != nil {
			return err
		}
		if err := liquidator.increaseBorrow(borrowPool, repay, stableRate, c.now); err != nil {
			return err
		}
		if !liquidatorF.IsZero() {
			if err := liquidator.addCollateral(collPool, liquidatorF); err != nil {
				return err
			}
		}
		if !reserveF.IsZero() {
			if err := collPool.addCirculating(reserveF); err != nil {
				return err
			}
			if collPool.ReserveFAmount, err = add(collPool.ReserveFAmount, reserveF); err != nil {
				return err
			}
			if err := c.engine.hook.OnMintReserve(params.CollateralPoolID, reserveF); err != nil {
				return err
			}
		}
		if err := c.requireHealthy(liquidator); err != nil {
			return err
		}

		badDebt := zero()
		if len(violator.Collaterals) == 0 {
			if remaining := violator.Borrow(params.BorrowPoolID); remaining != nil {
				badDebt = remaining.Balance.Clone()
			}
		}
		result = &LiquidationResult{
			RepayAmount:       repay,
			SeizedFAmount:     seizeF,
			LiquidatorFAmount: liquidatorF,
			ReserveFAmount:    reserveF,
			BadDebt:           badDebt,
		}
		c.emit(events.LendingLiquidate{
			ViolatorLoanID:    params.ViolatorLoanID,
			LiquidatorLoanID:  params.LiquidatorLoanID,
			CollateralPoolID:  params.CollateralPoolID,
			BorrowPoolID:      params.BorrowPoolID,
			RepayAmount:       repay.Clone(),
			SeizedFAmount:     seizeF.Clone(),
			LiquidatorFAmount: liquidatorF.Clone(),
			ReserveFAmount:    reserveF.Clone(),
			BadDebt:           badDebt.Clone(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.telemetry.ObserveLiquidation(uint16(loanType))
	e.logger.Info("loan liquidated",
		"violator", params.ViolatorLoanID.String(),
		"liquidator", params.LiquidatorLoanID.String(),
		"repay", result.RepayAmount.Dec(),
		"seized", result.SeizedFAmount.Dec(),
		"badDebt", result.BadDebt.Dec())
	return result, nil
}

// seizedFor converts a repayment into the f-shares of collateral it buys,
// bonus included. Every step rounds down.
func seizedFor(repay, bPrice *uint256.Int, bDecimals uint8, cPrice *uint256.Int, cDecimals uint8, bonus uint64, depositIndex *uint256.Int) (*uint256.Int, error) {
	value, err := AssetValue(repay, bPrice, bDecimals, RoundDown)
	if err != nil {
		return nil, err
	}
	if value, err = MulDiv(value, u64(maxBps4+bonus), One4DP, RoundDown); err != nil {
		return nil, err
	}
	underlying, err := ValueToAsset(value, cPrice, cDecimals, RoundDown)
	if err != nil {
		return nil, err
	}
	return ToFAmount(underlying, depositIndex, RoundDown)
}

// repayFor is the inverse of seizedFor. Every step rounds up.
func repayFor(seizeF, bPrice *uint256.Int, bDecimals uint8, cPrice *uint256.Int, cDecimals uint8, bonus uint64, depositIndex *uint256.Int) (*uint256.Int, error) {
	underlying, err := ToUnderlyingAmount(seizeF, depositIndex, RoundUp)
	if err != nil {
		return nil, err
	}
	value, err := AssetValue(underlying, cPrice, cDecimals, RoundUp)
	if err != nil {
		return nil, err
	}
	if value, err = MulDiv(value, One4DP, u64(maxBps4+bonus), RoundUp); err != nil {
		return nil, err
	}
	return ValueToAsset(value, bPrice, bDecimals, RoundUp)
}
