package lending

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"lendhub/core/events"
	"lendhub/core/types"
	nativecommon "lendhub/native/common"
	"lendhub/observability/metrics"
)

const moduleName = "lending"

// Engine orchestrates every loan and pool state transition. Calls are
// serialised and either commit all of their writes or none.
type Engine struct {
	mu        sync.Mutex
	state     Store
	prices    PriceFeed
	hook      PoolHook
	accounts  AccountRegistry
	policy    Policy
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	logger    *slog.Logger
	clock     func() time.Time
	telemetry *metrics.LendingMetrics
}

// NewEngine constructs an engine reading and writing through state and
// valuing positions with prices.
func NewEngine(state Store, prices PriceFeed) *Engine {
	return &Engine{
		state:     state,
		prices:    prices,
		hook:      NoopPoolHook{},
		accounts:  openRegistry{},
		policy:    NewRolePolicy(),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		clock:     time.Now,
		telemetry: metrics.Lending(),
	}
}

// SetHook wires the pool token movement callbacks.
func (e *Engine) SetHook(hook PoolHook) {
	if hook == nil {
		hook = NoopPoolHook{}
	}
	e.hook = hook
}

// SetAccountRegistry wires the account manager consulted on loan creation.
func (e *Engine) SetAccountRegistry(registry AccountRegistry) {
	if registry == nil {
		registry = openRegistry{}
	}
	e.accounts = registry
}

// SetPolicy replaces the capability check guarding admin calls.
func (e *Engine) SetPolicy(policy Policy) { e.policy = policy }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter wires the sink receiving events of committed calls.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetClock overrides the time source. Tests use it to control accrual.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	e.clock = clock
}

func (e *Engine) now() uint64 {
	ts := e.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// call carries the state of a single engine invocation.
type call struct {
	engine  *Engine
	tx      *txn
	now     uint64
	accrued map[poolKey]bool
	events  []events.Event
}

func (e *Engine) newCall() *call {
	return &call{engine: e, tx: newTxn(e.state), now: e.now(), accrued: make(map[poolKey]bool)}
}

// mutate runs fn as a user operation guarded by the module pause switch.
func (e *Engine) mutate(op string, fn func(c *call) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	return e.commit(op, fn)
}

func (e *Engine) commit(op string, fn func(c *call) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.newCall()
	if err := fn(c); err != nil {
		e.logger.Info("lending operation rejected", "op", op, "class", string(ErrorClass(err)), "error", err)
		return err
	}
	if err := c.settle(); err != nil {
		e.logger.Info("lending operation rejected", "op", op, "class", string(ErrorClass(err)), "error", err)
		return err
	}
	changes := c.tx.changes()
	if err := e.state.Apply(changes); err != nil {
		e.logger.Error("lending commit failed", "op", op, "error", err)
		return fmt.Errorf("lending: commit %s: %w", op, err)
	}
	for _, evt := range c.events {
		e.emitter.Emit(evt)
	}
	for _, pool := range changes.LoanPools {
		if ut, err := pool.Utilisation(); err == nil {
			e.telemetry.SetPoolUtilisation(uint16(pool.LoanTypeID), uint8(pool.PoolID), ut.Float64()/1e18)
		}
	}
	e.logger.Debug("lending operation committed", "op", op, "pools", len(changes.LoanPools), "loans", len(changes.UserLoans))
	return nil
}

// view runs fn against a throwaway transaction.
func (e *Engine) view(fn func(c *call) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.newCall())
}

// settle recomputes cached rates of every pool written by the call.
func (c *call) settle() error {
	for _, key := range c.tx.pools.order {
		if err := c.tx.pools.values[key].UpdateRates(); err != nil {
			return err
		}
	}
	return nil
}

func (c *call) emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *call) loanType(id types.LoanTypeID) (*LoanType, error) {
	t, err := c.tx.loanType(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLoanType, id)
	}
	return t, nil
}

func (c *call) pool(typeID types.LoanTypeID, poolID types.PoolID) (*LoanPool, error) {
	p, err := c.tx.loanPool(typeID, poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: loan type %d pool %d", ErrUnknownLoanPool, typeID, poolID)
	}
	return p, nil
}

// accruedPool loads the pool and accrues it to now exactly once per call.
func (c *call) accruedPool(typeID types.LoanTypeID, poolID types.PoolID) (*LoanPool, error) {
	p, err := c.pool(typeID, poolID)
	if err != nil {
		return nil, err
	}
	key := poolKey{typeID, poolID}
	if !c.accrued[key] {
		if err := p.Accrue(c.now); err != nil {
			return nil, err
		}
		c.accrued[key] = true
		c.tx.putLoanPool(p)
	}
	return p, nil
}

// openPool loads a pool for an operation that adds exposure. Deprecated loan
// types and pools are rejected.
func (c *call) openPool(loan *UserLoan, poolID types.PoolID) (*LoanPool, error) {
	lt, err := c.loanType(loan.LoanTypeID)
	if err != nil {
		return nil, err
	}
	if lt.Deprecated {
		return nil, fmt.Errorf("%w: %d", ErrLoanTypeDeprecated, lt.ID)
	}
	p, err := c.accruedPool(loan.LoanTypeID, poolID)
	if err != nil {
		return nil, err
	}
	if p.Config.Deprecated {
		return nil, fmt.Errorf("%w: loan type %d pool %d", ErrLoanPoolDeprecated, lt.ID, poolID)
	}
	return p, nil
}

func (c *call) userLoan(id types.LoanID) (*UserLoan, error) {
	loan, err := c.tx.userLoan(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUserLoan, id)
	}
	return loan, nil
}

func (c *call) ownedLoan(id types.LoanID, account types.AccountID) (*UserLoan, error) {
	loan, err := c.userLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.AccountID != account {
		return nil, fmt.Errorf("%w: loan %s", ErrNotAccountOwner, id)
	}
	return loan, nil
}

// accrueLoan brings the loan's entries in pool up to date and credits reward
// points to the owning account.
func (c *call) accrueLoan(loan *UserLoan, pool *LoanPool) error {
	rewards, err := c.tx.userPoolRewards(loan.AccountID, pool.PoolID)
	if err != nil {
		return err
	}
	if err := loan.accrue(pool, rewards, c.now); err != nil {
		return err
	}
	c.tx.putUserPoolRewards(rewards)
	c.tx.putUserLoan(loan)
	return nil
}

func (c *call) creditInterest(loan *UserLoan, pool *LoanPool, interest *uint256.Int) error {
	if interest.IsZero() {
		return nil
	}
	rewards, err := c.tx.userPoolRewards(loan.AccountID, pool.PoolID)
	if err != nil {
		return err
	}
	if err := rewards.creditInterestPaid(interest); err != nil {
		return err
	}
	c.tx.putUserPoolRewards(rewards)
	return nil
}

func (c *call) health(loan *UserLoan) (*LoanHealth, error) {
	lookup := func(pool types.PoolID) (*LoanPool, error) { return c.pool(loan.LoanTypeID, pool) }
	return evaluateHealth(loan, lookup, c.engine.prices, c.now)
}

func (c *call) requireHealthy(loan *UserLoan) error {
	h, err := c.health(loan)
	if err != nil {
		return err
	}
	if !h.Healthy {
		return fmt.Errorf("%w: effective borrow %s above effective collateral %s", ErrUnderCollateralizedLoan, h.EffectiveBorrowValue.Dec(), h.EffectiveCollateralValue.Dec())
	}
	return nil
}

// checkCollateralCap compares the dollar value of the pool's pledged
// collateral with its cap.
func (c *call) checkCollateralCap(pool *LoanPool) error {
	if pool.Config.CollateralCap == 0 {
		return nil
	}
	underlying, err := ToUnderlyingAmount(pool.TotalCollateral, pool.DepositInterestIndex, RoundDown)
	if err != nil {
		return err
	}
	price, decimals, err := c.engine.prices.PriceOf(pool.PoolID)
	if err != nil {
		return err
	}
	value, err := AssetValue(underlying, price, decimals, RoundDown)
	if err != nil {
		return err
	}
	limit, err := mul(u64(pool.Config.CollateralCap), One18DP)
	if err != nil {
		return err
	}
	if value.Gt(limit) {
		return fmt.Errorf("%w: loan type %d pool %d", ErrCollateralCapReached, pool.LoanTypeID, pool.PoolID)
	}
	return nil
}

// checkBorrowCap compares the dollar value of the pool's debt with its cap.
func (c *call) checkBorrowCap(pool *LoanPool) error {
	if pool.Config.BorrowCap == 0 {
		return nil
	}
	debt, err := pool.TotalDebt()
	if err != nil {
		return err
	}
	price, decimals, err := c.engine.prices.PriceOf(pool.PoolID)
	if err != nil {
		return err
	}
	value, err := AssetValue(debt, price, decimals, RoundUp)
	if err != nil {
		return err
	}
	limit, err := mul(u64(pool.Config.BorrowCap), One18DP)
	if err != nil {
		return err
	}
	if value.Gt(limit) {
		return fmt.Errorf("%w: loan type %d pool %d", ErrBorrowCapReached, pool.LoanTypeID, pool.PoolID)
	}
	return nil
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

// CreateUserLoan opens an empty loan of the given type for account. The loan
// id is derived from the account and nonce.
func (e *Engine) CreateUserLoan(account types.AccountID, nonce [4]byte, loanTypeID types.LoanTypeID, name string) (types.LoanID, error) {
	id := types.DeriveLoanID(account, nonce)
	err := e.mutate("createUserLoan", func(c *call) error {
		if !c.engine.accounts.IsRegistered(account) {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
		}
		lt, err := c.loanType(loanTypeID)
		if err != nil {
			return err
		}
		if lt.Deprecated {
			return fmt.Errorf("%w: %d", ErrLoanTypeDeprecated, lt.ID)
		}
		existing, err := c.tx.userLoan(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrUserLoanAlreadyCreated, id)
		}
		c.tx.putUserLoan(&UserLoan{ID: id, AccountID: account, LoanTypeID: loanTypeID, Name: name})
		c.emit(events.LoanCreated{LoanID: id, AccountID: account, LoanTypeID: loanTypeID, Name: name})
		return nil
	})
	if err != nil {
		return types.LoanID{}, err
	}
	return id, nil
}

// DeleteUserLoan removes a loan that holds no collateral and no borrows.
func (e *Engine) DeleteUserLoan(account types.AccountID, loanID types.LoanID) error {
	return e.mutate("deleteUserLoan", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		if !loan.IsEmpty() {
			return fmt.Errorf("%w: %s", ErrLoanNotEmpty, loanID)
		}
		c.tx.deleteUserLoan(loanID)
		c.emit(events.LoanDeleted{LoanID: loanID, AccountID: account})
		return nil
	})
}

// Deposit converts amount of the pool's underlying into f-shares and adds
// them to the loan's collateral. The minted f-share amount is returned.
func (e *Engine) Deposit(account types.AccountID, loanID types.LoanID, poolID types.PoolID, amount *uint256.Int) (*uint256.Int, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	var minted *uint256.Int
	err := e.mutate("deposit", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.openPool(loan, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		fAmount, err := ToFAmount(amount, pool.DepositInterestIndex, RoundDown)
		if err != nil {
			return err
		}
		if fAmount.IsZero() {
			return ErrZeroFAmount
		}
		if err := loan.addCollateral(pool, fAmount); err != nil {
			return err
		}
		if err := c.checkCollateralCap(pool); err != nil {
			return err
		}
		if err := c.engine.hook.OnDeposit(account, poolID, amount, fAmount); err != nil {
			return err
		}
		minted = fAmount
		c.emit(events.LendingDeposit{LoanID: loanID, PoolID: poolID, Amount: amount.Clone(), FAmount: fAmount.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// DepositFToken pledges f-shares the account already holds.
func (e *Engine) DepositFToken(account types.AccountID, loanID types.LoanID, poolID types.PoolID, fAmount *uint256.Int) error {
	if err := requirePositive(fAmount); err != nil {
		return err
	}
	return e.mutate("depositFToken", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.openPool(loan, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		if err := pool.releaseCirculating(fAmount); err != nil {
			return err
		}
		if err := loan.addCollateral(pool, fAmount); err != nil {
			return err
		}
		if err := c.checkCollateralCap(pool); err != nil {
			return err
		}
		if err := c.engine.hook.OnDepositFToken(account, poolID, fAmount); err != nil {
			return err
		}
		c.emit(events.LendingDeposit{LoanID: loanID, PoolID: poolID, FAmount: fAmount.Clone()})
		return nil
	})
}

// Withdraw redeems collateral for underlying. amount is read as f-shares when
// isFAmount is set and as underlying otherwise. The burned f-shares and the
// underlying released are returned.
func (e *Engine) Withdraw(account types.AccountID, loanID types.LoanID, poolID types.PoolID, amount *uint256.Int, isFAmount bool) (fAmount, underlying *uint256.Int, err error) {
	if err := requirePositive(amount); err != nil {
		return nil, nil, err
	}
	err = e.mutate("withdraw", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.accruedPool(loan.LoanTypeID, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		if isFAmount {
			fAmount = amount.Clone()
			underlying, err = ToUnderlyingAmount(amount, pool.DepositInterestIndex, RoundDown)
		} else {
			underlying = amount.Clone()
			fAmount, err = ToFAmount(amount, pool.DepositInterestIndex, RoundUp)
		}
		if err != nil {
			return err
		}
		if err := loan.removeCollateral(pool, fAmount); err != nil {
			return err
		}
		if err := pool.checkLiquidity(); err != nil {
			return fmt.Errorf("%w: loan type %d pool %d", err, pool.LoanTypeID, poolID)
		}
		if err := c.requireHealthy(loan); err != nil {
			return err
		}
		if err := c.engine.hook.OnWithdraw(account, poolID, fAmount, underlying); err != nil {
			return err
		}
		c.emit(events.LendingWithdraw{LoanID: loanID, PoolID: poolID, FAmount: fAmount.Clone(), Amount: underlying.Clone()})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return fAmount, underlying, nil
}

// WithdrawFToken moves f-shares out of the loan without redeeming them.
func (e *Engine) WithdrawFToken(account types.AccountID, loanID types.LoanID, poolID types.PoolID, fAmount *uint256.Int) error {
	if err := requirePositive(fAmount); err != nil {
		return err
	}
	return e.mutate("withdrawFToken", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.accruedPool(loan.LoanTypeID, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		if err := loan.removeCollateral(pool, fAmount); err != nil {
			return err
		}
		if err := pool.addCirculating(fAmount); err != nil {
			return err
		}
		if err := c.requireHealthy(loan); err != nil {
			return err
		}
		if err := c.engine.hook.OnWithdrawFToken(account, poolID, fAmount); err != nil {
			return err
		}
		c.emit(events.LendingWithdraw{LoanID: loanID, PoolID: poolID, FAmount: fAmount.Clone(), Amount: zero()})
		return nil
	})
}

// stableRateFor validates a stable request against the pool and returns the
// rate the borrower locks in.
func stableRateFor(pool *LoanPool, maxStableRate *uint256.Int) (*uint256.Int, error) {
	if pool.Interest.StableBorrowPercentageCap == 0 || pool.StableInterestRate == nil || pool.StableInterestRate.IsZero() {
		return nil, fmt.Errorf("%w: loan type %d pool %d", ErrStableBorrowingDisabled, pool.LoanTypeID, pool.PoolID)
	}
	if pool.StableInterestRate.Gt(maxStableRate) {
		return nil, fmt.Errorf("%w: current %s, maximum %s", ErrMaxStableRateExceeded, pool.StableInterestRate.Dec(), maxStableRate.Dec())
	}
	return pool.StableInterestRate.Clone(), nil
}

// Borrow draws amount from the pool against the loan's collateral. A zero
// maxStableRate requests a variable borrow; otherwise the borrow is stable and
// fails when the pool's stable rate is above the ceiling.
func (e *Engine) Borrow(account types.AccountID, loanID types.LoanID, poolID types.PoolID, amount, maxStableRate *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	stable := maxStableRate != nil && !maxStableRate.IsZero()
	return e.mutate("borrow", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.openPool(loan, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		rate := zero()
		if stable {
			if rate, err = stableRateFor(pool, maxStableRate); err != nil {
				return err
			}
			if err := pool.checkStableShare(amount); err != nil {
				return err
			}
		}
		if err := loan.increaseBorrow(pool, amount, rate, c.now); err != nil {
			return err
		}
		if err := c.checkBorrowCap(pool); err != nil {
			return err
		}
		if err := pool.checkLiquidity(); err != nil {
			return fmt.Errorf("%w: loan type %d pool %d", err, pool.LoanTypeID, poolID)
		}
		if err := c.requireHealthy(loan); err != nil {
			return err
		}
		if err := c.engine.hook.OnBorrow(account, poolID, amount); err != nil {
			return err
		}
		c.emit(events.LendingBorrow{LoanID: loanID, PoolID: poolID, Amount: amount.Clone(), StableRate: rate})
		return nil
	})
}

// RepayResult splits a repayment.
type RepayResult struct {
	Interest  *uint256.Int
	Principal *uint256.Int
	// Refund is the part of the supplied amount above the outstanding
	// balance, returned to the payer.
	Refund *uint256.Int
	// FAmount is the collateral burned by RepayWithCollateral.
	FAmount *uint256.Int
}

// Repay applies amount to the loan's borrow in pool, interest first. Up to
// maxOverRepayment above the outstanding balance is tolerated and refunded.
func (e *Engine) Repay(account types.AccountID, loanID types.LoanID, poolID types.PoolID, amount, maxOverRepayment *uint256.Int) (*RepayResult, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	var result *RepayResult
	err := e.mutate("repay", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.accruedPool(loan.LoanTypeID, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		entry := loan.Borrow(poolID)
		if entry == nil {
			return fmt.Errorf("%w: pool %d", ErrNoBorrowInLoanForPool, poolID)
		}
		limit, err := add(entry.Balance, cloneOrZero(maxOverRepayment))
		if err != nil {
			return err
		}
		if amount.Gt(limit) {
			return fmt.Errorf("%w: amount %s above balance %s plus tolerance", ErrExcessRepaymentExceeded, amount.Dec(), entry.Balance.Dec())
		}
		repaid := minInt(amount, entry.Balance)
		refund := new(uint256.Int).Sub(amount, repaid)
		interest, principal, err := loan.decreaseBorrow(pool, repaid)
		if err != nil {
			return err
		}
		if err := c.creditInterest(loan, pool, interest); err != nil {
			return err
		}
		if err := c.engine.hook.OnRepay(account, poolID, amount, refund); err != nil {
			return err
		}
		result = &RepayResult{Interest: interest, Principal: principal, Refund: refund}
		c.emit(events.LendingRepay{LoanID: loanID, PoolID: poolID, Principal: principal.Clone(), Interest: interest.Clone(), Excess: refund.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RepayWithCollateral repays the borrow in pool by burning the loan's own
// collateral in the same pool. The repayment is capped at the balance.
func (e *Engine) RepayWithCollateral(account types.AccountID, loanID types.LoanID, poolID types.PoolID, amount *uint256.Int) (*RepayResult, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	var result *RepayResult
	err := e.mutate("repayWithCollateral", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.accruedPool(loan.LoanTypeID, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		entry := loan.Borrow(poolID)
		if entry == nil {
			return fmt.Errorf("%w: pool %d", ErrNoBorrowInLoanForPool, poolID)
		}
		if loan.Collateral(poolID) == nil {
			return fmt.Errorf("%w: pool %d", ErrNoCollateralInLoanForPool, poolID)
		}
		repaid := minInt(amount, entry.Balance)
		fAmount, err := ToFAmount(repaid, pool.DepositInterestIndex, RoundUp)
		if err != nil {
			return err
		}
		if err := loan.removeCollateral(pool, fAmount); err != nil {
			return err
		}
		interest, principal, err := loan.decreaseBorrow(pool, repaid)
		if err != nil {
			return err
		}
		if err := c.requireHealthy(loan); err != nil {
			return err
		}
		if err := c.creditInterest(loan, pool, interest); err != nil {
			return err
		}
		result = &RepayResult{Interest: interest, Principal: principal, Refund: zero(), FAmount: fAmount}
		c.emit(events.LendingRepay{LoanID: loanID, PoolID: poolID, Principal: principal.Clone(), Interest: interest.Clone(), Excess: zero(), FAmount: fAmount.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SwitchBorrowType moves a variable borrow to the pool's stable rate when
// maxStableRate is non-zero, and a stable borrow to variable otherwise.
func (e *Engine) SwitchBorrowType(account types.AccountID, loanID types.LoanID, poolID types.PoolID, maxStableRate *uint256.Int) error {
	toStable := maxStableRate != nil && !maxStableRate.IsZero()
	return e.mutate("switchBorrowType", func(c *call) error {
		loan, err := c.ownedLoan(loanID, account)
		if err != nil {
			return err
		}
		pool, err := c.accruedPool(loan.LoanTypeID, poolID)
		if err != nil {
			return err
		}
		if err := c.accrueLoan(loan, pool); err != nil {
			return err
		}
		rate := zero()
		if toStable {
			entry := loan.Borrow(poolID)
			if entry == nil || entry.IsStable() {
				return fmt.Errorf("%w: pool %d", ErrNoVariableBorrowInLoanForPool, poolID)
			}
			if rate, err = stableRateFor(pool, maxStableRate); err != nil {
				return err
			}
			if err := pool.checkStableShare(entry.Balance); err != nil {
				return err
			}
			if err := loan.switchToStable(pool, rate, c.now); err != nil {
				return err
			}
		} else if err := loan.switchToVariable(pool); err != nil {
			return err
		}
		if err := c.requireHealthy(loan); err != nil {
			return err
		}
		c.emit(events.BorrowTypeSwitched{LoanID: loanID, PoolID: poolID, Stable: toStable, StableRate: rate})
		return nil
	})
}

// RebalanceUp moves a stable borrow onto the current stable rate when the pool
// is highly utilised while depositors earn too little.
func (e *Engine) RebalanceUp(loanID types.LoanID, poolID types.PoolID) error {
	return e.mutate("rebalanceUp", func(c *call) error {
		loan, pool, err := c.stableEntry(loanID, poolID)
		if err != nil {
			return err
		}
		ut, err := pool.Utilisation()
		if err != nil {
			return err
		}
		bound, err := MulDiv(rate6(pool.Interest.Vr1), u64(pool.Interest.RebalanceUpDepositInterestRate), One4DP, RoundDown)
		if err != nil {
			return err
		}
		if ut.Lt(ratio4(pool.Interest.RebalanceUpUtilisationRatio)) || pool.DepositInterestRate.Gt(bound) {
			return fmt.Errorf("%w: utilisation %s deposit rate %s", ErrRebalanceUpThresholdNotReached, ut.Dec(), pool.DepositInterestRate.Dec())
		}
		return c.rebalance(loan, pool, "up")
	})
}

// RebalanceDown moves a stable borrow onto the current stable rate when its
// locked rate exceeds the current one by more than the configured delta.
func (e *Engine) RebalanceDown(loanID types.LoanID, poolID types.PoolID) error {
	return e.mutate("rebalanceDown", func(c *call) error {
		loan, pool, err := c.stableEntry(loanID, poolID)
		if err != nil {
			return err
		}
		threshold, err := MulDiv(pool.StableInterestRate, u64(maxBps4+pool.Interest.RebalanceDownDelta), One4DP, RoundDown)
		if err != nil {
			return err
		}
		if !loan.Borrow(poolID).StableInterestRate.Gt(threshold) {
			return fmt.Errorf("%w: threshold %s", ErrRebalanceDownThresholdNotReached, threshold.Dec())
		}
		return c.rebalance(loan, pool, "down")
	})
}

func (c *call) stableEntry(loanID types.LoanID, poolID types.PoolID) (*UserLoan, *LoanPool, error) {
	loan, err := c.userLoan(loanID)
	if err != nil {
		return nil, nil, err
	}
	pool, err := c.accruedPool(loan.LoanTypeID, poolID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.accrueLoan(loan, pool); err != nil {
		return nil, nil, err
	}
	if entry := loan.Borrow(poolID); entry == nil || !entry.IsStable() {
		return nil, nil, fmt.Errorf("%w: pool %d", ErrNoStableBorrowInLoanForPool, poolID)
	}
	return loan, pool, nil
}

func (c *call) rebalance(loan *UserLoan, pool *LoanPool, direction string) error {
	rate := pool.StableInterestRate.Clone()
	previous, err := loan.resetStableRate(pool, rate, c.now)
	if err != nil {
		return err
	}
	c.emit(events.StableRebalanced{LoanID: loan.ID, PoolID: pool.PoolID, Direction: direction, OldRate: previous, NewRate: rate})
	return nil
}

// GetUserLoan returns the loan with borrow balances projected to now.
func (e *Engine) GetUserLoan(loanID types.LoanID) (*UserLoan, error) {
	var out *UserLoan
	err := e.view(func(c *call) error {
		loan, err := c.userLoan(loanID)
		if err != nil {
			return err
		}
		for _, entry := range loan.Borrows {
			pool, err := c.pool(loan.LoanTypeID, entry.PoolID)
			if err != nil {
				return err
			}
			if entry.Balance, err = projectedBorrowBalance(entry, pool, c.now); err != nil {
				return err
			}
		}
		out = loan
		return nil
	})
	return out, err
}

// GetLoanPool returns the pool accrued to now. Nothing is written.
func (e *Engine) GetLoanPool(typeID types.LoanTypeID, poolID types.PoolID) (*LoanPool, error) {
	var out *LoanPool
	err := e.view(func(c *call) error {
		pool, err := c.pool(typeID, poolID)
		if err != nil {
			return err
		}
		if err := pool.Accrue(c.now); err != nil {
			return err
		}
		out = pool
		return nil
	})
	return out, err
}

// GetLoanType returns the loan type configuration.
func (e *Engine) GetLoanType(typeID types.LoanTypeID) (*LoanType, error) {
	var out *LoanType
	err := e.view(func(c *call) error {
		lt, err := c.loanType(typeID)
		out = lt
		return err
	})
	return out, err
}

// IsUserLoanActive reports whether the loan exists.
func (e *Engine) IsUserLoanActive(loanID types.LoanID) (bool, error) {
	var active bool
	err := e.view(func(c *call) error {
		loan, err := c.tx.userLoan(loanID)
		active = loan != nil
		return err
	})
	return active, err
}

// GetUserPoolRewards returns the points credited to account in pool as of the
// last operation touching one of its loans in that pool.
func (e *Engine) GetUserPoolRewards(account types.AccountID, poolID types.PoolID) (*UserPoolRewards, error) {
	var out *UserPoolRewards
	err := e.view(func(c *call) error {
		rewards, err := c.tx.userPoolRewards(account, poolID)
		out = rewards
		return err
	})
	return out, err
}

// GetLoanHealth values the loan at now.
func (e *Engine) GetLoanHealth(loanID types.LoanID) (*LoanHealth, error) {
	var out *LoanHealth
	err := e.view(func(c *call) error {
		loan, err := c.userLoan(loanID)
		if err != nil {
			return err
		}
		out, err = c.health(loan)
		return err
	})
	return out, err
}
