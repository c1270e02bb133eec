package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendhub/core/types"
)

const (
	maxBps4    = 10_000
	maxRate6DP = 1_000_000
	minHealth4 = 10_000
)

// LoanType captures a risk bucket and the pools that belong to it.
type LoanType struct {
	ID types.LoanTypeID
	// LoanTargetHealth is the health (4dp) a liquidation may restore a
	// violator to in a single call.
	LoanTargetHealth uint64
	Pools            []types.PoolID
	Deprecated       bool
}

// Clone returns a deep copy of the loan type.
func (t *LoanType) Clone() *LoanType {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Pools = append([]types.PoolID(nil), t.Pools...)
	return &clone
}

// HasPool reports whether the pool is a member of the loan type.
func (t *LoanType) HasPool(pool types.PoolID) bool {
	for _, id := range t.Pools {
		if id == pool {
			return true
		}
	}
	return false
}

// Validate checks the loan type parameters.
func (t *LoanType) Validate() error {
	if t == nil {
		return ErrInvalidLoanTypeConfig
	}
	if t.LoanTargetHealth < minHealth4 {
		return fmt.Errorf("%w: target health %d below 1.0000", ErrInvalidLoanTypeConfig, t.LoanTargetHealth)
	}
	return nil
}

// LoanPoolConfig carries the risk and reward parameters of a pool inside a
// loan type. Factors and fees are expressed with four decimals.
type LoanPoolConfig struct {
	CollateralFactor uint64
	BorrowFactor     uint64
	// CollateralCap and BorrowCap are whole-dollar limits; zero disables the
	// limit.
	CollateralCap    uint64
	BorrowCap        uint64
	LiquidationBonus uint64
	LiquidationFee   uint64
	Deprecated       bool

	RewardCollateralSpeed *uint256.Int
	RewardBorrowSpeed     *uint256.Int
	RewardMinimumAmount   *uint256.Int
}

// Clone returns a deep copy of the pool config.
func (c LoanPoolConfig) Clone() LoanPoolConfig {
	clone := c
	clone.RewardCollateralSpeed = cloneOrZero(c.RewardCollateralSpeed)
	clone.RewardBorrowSpeed = cloneOrZero(c.RewardBorrowSpeed)
	clone.RewardMinimumAmount = cloneOrZero(c.RewardMinimumAmount)
	return clone
}

// Validate checks factor and fee ranges.
func (c LoanPoolConfig) Validate() error {
	if c.CollateralFactor > maxBps4 {
		return fmt.Errorf("%w: collateral factor %d above 1.0000", ErrInvalidLoanPoolConfig, c.CollateralFactor)
	}
	if c.BorrowFactor == 0 || c.BorrowFactor > maxBps4 {
		return fmt.Errorf("%w: borrow factor %d outside (0, 1.0000]", ErrInvalidLoanPoolConfig, c.BorrowFactor)
	}
	if c.LiquidationBonus > maxBps4 {
		return fmt.Errorf("%w: liquidation bonus %d above 1.0000", ErrInvalidLoanPoolConfig, c.LiquidationBonus)
	}
	if c.LiquidationFee > maxBps4 {
		return fmt.Errorf("%w: liquidation fee %d above 1.0000", ErrInvalidLoanPoolConfig, c.LiquidationFee)
	}
	return nil
}

// InterestRateConfig parameterises the kinked rate curves of a pool. Rates use
// six decimals, ratios four decimals.
type InterestRateConfig struct {
	Vr0 uint64
	Vr1 uint64
	Vr2 uint64
	Sr0 uint64
	Sr1 uint64
	Sr2 uint64
	Sr3 uint64

	OptimalUtilisationRatio       uint64
	OptimalStableToTotalDebtRatio uint64
	RetentionRate                 uint64

	RebalanceUpUtilisationRatio    uint64
	RebalanceUpDepositInterestRate uint64
	RebalanceDownDelta             uint64
	StableBorrowPercentageCap      uint64
}

// Validate enforces that neither curve can reach 100% and that the ratios are
// in range.
func (c InterestRateConfig) Validate() error {
	if c.Vr0+c.Vr1+c.Vr2 >= maxRate6DP {
		return fmt.Errorf("%w: maximum variable rate must be below 100%%", ErrInvalidInterestRateConfig)
	}
	if c.Vr1+c.Sr0+c.Sr1+c.Sr2+c.Sr3 >= maxRate6DP {
		return fmt.Errorf("%w: maximum stable rate must be below 100%%", ErrInvalidInterestRateConfig)
	}
	if c.OptimalUtilisationRatio == 0 || c.OptimalUtilisationRatio >= maxBps4 {
		return fmt.Errorf("%w: optimal utilisation %d outside (0, 1)", ErrInvalidInterestRateConfig, c.OptimalUtilisationRatio)
	}
	if c.OptimalStableToTotalDebtRatio >= maxBps4 {
		return fmt.Errorf("%w: optimal stable ratio %d outside [0, 1)", ErrInvalidInterestRateConfig, c.OptimalStableToTotalDebtRatio)
	}
	if c.RetentionRate > maxRate6DP {
		return fmt.Errorf("%w: retention rate %d above 100%%", ErrInvalidInterestRateConfig, c.RetentionRate)
	}
	if c.RebalanceUpUtilisationRatio > maxBps4 || c.RebalanceUpDepositInterestRate > maxBps4 {
		return fmt.Errorf("%w: rebalance up thresholds above 1.0000", ErrInvalidInterestRateConfig)
	}
	if c.StableBorrowPercentageCap > maxBps4 {
		return fmt.Errorf("%w: stable borrow percentage cap above 1.0000", ErrInvalidInterestRateConfig)
	}
	return nil
}
