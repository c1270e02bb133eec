package lending

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"lendhub/core/events"
	"lendhub/core/types"
)

// Operation names an admin mutation.
type Operation string

const (
	OpCreateLoanType               Operation = "createLoanType"
	OpDeprecateLoanType            Operation = "deprecateLoanType"
	OpUpdateLoanTypeTargetHealth   Operation = "updateLoanTypeTargetHealth"
	OpAddPoolToLoanType            Operation = "addPoolToLoanType"
	OpDeprecateLoanPool            Operation = "deprecateLoanPool"
	OpUpdateLoanPoolCaps           Operation = "updateLoanPoolCaps"
	OpUpdateLoanPoolLiquidation    Operation = "updateLoanPoolLiquidation"
	OpUpdateLoanPoolRewardSpeeds   Operation = "updateLoanPoolRewardSpeeds"
	OpUpdateLoanPoolInterestConfig Operation = "updateLoanPoolInterestConfig"
)

// Role groups the operations an account may perform.
type Role string

const (
	// RoleListingAdmin creates and retires loan types and pools.
	RoleListingAdmin Role = "listing_admin"
	// RoleRiskAdmin tunes the parameters of existing loan types and pools.
	RoleRiskAdmin Role = "risk_admin"
)

var operationRoles = map[Operation]Role{
	OpCreateLoanType:               RoleListingAdmin,
	OpDeprecateLoanType:            RoleListingAdmin,
	OpAddPoolToLoanType:            RoleListingAdmin,
	OpDeprecateLoanPool:            RoleListingAdmin,
	OpUpdateLoanTypeTargetHealth:   RoleRiskAdmin,
	OpUpdateLoanPoolCaps:           RoleRiskAdmin,
	OpUpdateLoanPoolLiquidation:    RoleRiskAdmin,
	OpUpdateLoanPoolRewardSpeeds:   RoleRiskAdmin,
	OpUpdateLoanPoolInterestConfig: RoleRiskAdmin,
}

// Policy decides whether caller may perform an admin operation.
type Policy interface {
	CanMutate(caller types.AccountID, op Operation) bool
}

// RolePolicy grants operations through roles held by accounts.
type RolePolicy struct {
	mu    sync.RWMutex
	roles map[types.AccountID]map[Role]bool
}

// NewRolePolicy returns a policy with no grants.
func NewRolePolicy() *RolePolicy {
	return &RolePolicy{roles: make(map[types.AccountID]map[Role]bool)}
}

// Grant gives role to account.
func (p *RolePolicy) Grant(account types.AccountID, role Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	held := p.roles[account]
	if held == nil {
		held = make(map[Role]bool)
		p.roles[account] = held
	}
	held[role] = true
}

// Revoke removes role from account.
func (p *RolePolicy) Revoke(account types.AccountID, role Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.roles[account], role)
}

// HasRole reports whether account holds role.
func (p *RolePolicy) HasRole(account types.AccountID, role Role) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.roles[account][role]
}

// CanMutate implements Policy.
func (p *RolePolicy) CanMutate(caller types.AccountID, op Operation) bool {
	role, ok := operationRoles[op]
	if !ok {
		return false
	}
	return p.HasRole(caller, role)
}

// configure runs an admin mutation. Admin calls bypass the pause switch so a
// paused module can still be reconfigured.
func (e *Engine) configure(caller types.AccountID, op Operation, fn func(c *call) error) error {
	if e == nil || e.policy == nil || !e.policy.CanMutate(caller, op) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	}
	return e.commit(string(op), fn)
}

func (c *call) configPool(typeID types.LoanTypeID, poolID types.PoolID) (*LoanPool, error) {
	if _, err := c.loanType(typeID); err != nil {
		return nil, err
	}
	return c.accruedPool(typeID, poolID)
}

func configUpdated(op Operation, typeID types.LoanTypeID) events.LendingConfigUpdated {
	return events.LendingConfigUpdated{Operation: string(op), LoanTypeID: typeID}
}

func poolConfigUpdated(op Operation, typeID types.LoanTypeID, poolID types.PoolID) events.LendingConfigUpdated {
	return events.LendingConfigUpdated{Operation: string(op), LoanTypeID: typeID, PoolID: poolID, HasPool: true}
}

// CreateLoanType registers a new loan type without pools.
func (e *Engine) CreateLoanType(caller types.AccountID, typeID types.LoanTypeID, targetHealth uint64) error {
	return e.configure(caller, OpCreateLoanType, func(c *call) error {
		existing, err := c.tx.loanType(typeID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %d", ErrLoanTypeAlreadyExists, typeID)
		}
		lt := &LoanType{ID: typeID, LoanTargetHealth: targetHealth}
		if err := lt.Validate(); err != nil {
			return err
		}
		c.tx.putLoanType(lt)
		c.emit(configUpdated(OpCreateLoanType, typeID))
		return nil
	})
}

// DeprecateLoanType stops new loans, deposits and borrows under the type.
// Existing positions can still be withdrawn, repaid and liquidated.
func (e *Engine) DeprecateLoanType(caller types.AccountID, typeID types.LoanTypeID) error {
	return e.configure(caller, OpDeprecateLoanType, func(c *call) error {
		lt, err := c.loanType(typeID)
		if err != nil {
			return err
		}
		lt.Deprecated = true
		c.tx.putLoanType(lt)
		c.emit(configUpdated(OpDeprecateLoanType, typeID))
		return nil
	})
}

func (e *Engine) UpdateLoanTypeTargetHealth(caller types.AccountID, typeID types.LoanTypeID, targetHealth uint64) error {
	return e.configure(caller, OpUpdateLoanTypeTargetHealth, func(c *call) error {
		lt, err := c.loanType(typeID)
		if err != nil {
			return err
		}
		lt.LoanTargetHealth = targetHealth
		if err := lt.Validate(); err != nil {
			return err
		}
		c.tx.putLoanType(lt)
		c.emit(configUpdated(OpUpdateLoanTypeTargetHealth, typeID))
		return nil
	})
}

// AddPoolToLoanType creates the pool state for poolID inside the loan type.
func (e *Engine) AddPoolToLoanType(caller types.AccountID, typeID types.LoanTypeID, poolID types.PoolID, cfg LoanPoolConfig, interest InterestRateConfig) error {
	return e.configure(caller, OpAddPoolToLoanType, func(c *call) error {
		lt, err := c.loanType(typeID)
		if err != nil {
			return err
		}
		if lt.HasPool(poolID) {
			return fmt.Errorf("%w: loan type %d pool %d", ErrLoanPoolAlreadyExists, typeID, poolID)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := interest.Validate(); err != nil {
			return err
		}
		pool, err := NewLoanPool(typeID, poolID, cfg, interest, c.now)
		if err != nil {
			return err
		}
		lt.Pools = append(lt.Pools, poolID)
		c.tx.putLoanType(lt)
		c.tx.putLoanPool(pool)
		c.emit(poolConfigUpdated(OpAddPoolToLoanType, typeID, poolID))
		return nil
	})
}

func (e *Engine) DeprecateLoanPool(caller types.AccountID, typeID types.LoanTypeID, poolID types.PoolID) error {
	return e.configure(caller, OpDeprecateLoanPool, func(c *call) error {
		pool, err := c.configPool(typeID, poolID)
		if err != nil {
			return err
		}
		pool.Config.Deprecated = true
		c.emit(poolConfigUpdated(OpDeprecateLoanPool, typeID, poolID))
		return nil
	})
}

// UpdateLoanPoolCaps replaces the collateral and borrow caps. Zero removes a
// cap.
func (e *Engine) UpdateLoanPoolCaps(caller types.AccountID, typeID types.LoanTypeID, poolID types.PoolID, collateralCap, borrowCap uint64) error {
	return e.configure(caller, OpUpdateLoanPoolCaps, func(c *call) error {
		pool, err := c.configPool(typeID, poolID)
		if err != nil {
			return err
		}
		pool.Config.CollateralCap = collateralCap
		pool.Config.BorrowCap = borrowCap
		c.emit(poolConfigUpdated(OpUpdateLoanPoolCaps, typeID, poolID))
		return nil
	})
}

// UpdateLoanPoolLiquidation replaces the factors, bonus and fee used by
// health checks and liquidations.
func (e *Engine) UpdateLoanPoolLiquidation(caller types.AccountID, typeID types.LoanTypeID, poolID types.PoolID, collateralFactor, borrowFactor, bonus, fee uint64) error {
	return e.configure(caller, OpUpdateLoanPoolLiquidation, func(c *call) error {
		pool, err := c.configPool(typeID, poolID)
		if err != nil {
			return err
		}
		cfg := pool.Config.Clone()
		cfg.CollateralFactor = collateralFactor
		cfg.BorrowFactor = borrowFactor
		cfg.LiquidationBonus = bonus
		cfg.LiquidationFee = fee
		if err := cfg.Validate(); err != nil {
			return err
		}
		pool.Config = cfg
		c.emit(poolConfigUpdated(OpUpdateLoanPoolLiquidation, typeID, poolID))
		return nil
	})
}

// UpdateLoanPoolRewardSpeeds replaces the per-second reward emission of the
// pool. Rewards up to now accrue at the previous speeds.
func (e *Engine) UpdateLoanPoolRewardSpeeds(caller types.AccountID, typeID types.LoanTypeID, poolID types.PoolID, collateralSpeed, borrowSpeed, minimum *uint256.Int) error {
	return e.configure(caller, OpUpdateLoanPoolRewardSpeeds, func(c *call) error {
		pool, err := c.configPool(typeID, poolID)
		if err != nil {
			return err
		}
		pool.Config.RewardCollateralSpeed = cloneOrZero(collateralSpeed)
		pool.Config.RewardBorrowSpeed = cloneOrZero(borrowSpeed)
		pool.Config.RewardMinimumAmount = cloneOrZero(minimum)
		c.emit(poolConfigUpdated(OpUpdateLoanPoolRewardSpeeds, typeID, poolID))
		return nil
	})
}

// UpdateLoanPoolInterestConfig replaces the rate curves. Interest up to now
// accrues at the previous rates; the new curves apply from this call on.
func (e *Engine) UpdateLoanPoolInterestConfig(caller types.AccountID, typeID types.LoanTypeID, poolID types.PoolID, interest InterestRateConfig) error {
	return e.configure(caller, OpUpdateLoanPoolInterestConfig, func(c *call) error {
		if err := interest.Validate(); err != nil {
			return err
		}
		pool, err := c.configPool(typeID, poolID)
		if err != nil {
			return err
		}
		pool.Interest = interest
		c.emit(poolConfigUpdated(OpUpdateLoanPoolInterestConfig, typeID, poolID))
		return nil
	})
}
