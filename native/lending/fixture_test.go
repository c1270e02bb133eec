package lending

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"lendhub/core/events"
	"lendhub/core/types"
)

const (
	testLoanType types.LoanTypeID = 1
	poolUSDC     types.PoolID     = 1
	poolETH      types.PoolID     = 2
)

type fixture struct {
	t        *testing.T
	engine   *Engine
	state    *MemState
	prices   *StaticPriceFeed
	recorder *events.Recorder
	policy   *RolePolicy
	admin    types.AccountID
	now      int64
}

func testInterestConfig() InterestRateConfig {
	return InterestRateConfig{
		Vr0:                            10_000,
		Vr1:                            40_000,
		Vr2:                            300_000,
		Sr0:                            10_000,
		Sr1:                            60_000,
		Sr2:                            300_000,
		Sr3:                            40_000,
		OptimalUtilisationRatio:        8_000,
		OptimalStableToTotalDebtRatio:  2_000,
		RetentionRate:                  100_000,
		RebalanceUpUtilisationRatio:    9_500,
		RebalanceUpDepositInterestRate: 4_000,
		RebalanceDownDelta:             2_000,
		StableBorrowPercentageCap:      5_000,
	}
}

func testPoolConfig() LoanPoolConfig {
	return LoanPoolConfig{
		CollateralFactor: 7_000,
		BorrowFactor:     10_000,
		LiquidationBonus: 500,
		LiquidationFee:   1_000,
	}
}

func account(b byte) types.AccountID {
	var id types.AccountID
	id[31] = b
	return id
}

func usdc(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e6)) }

func eth(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), One18DP) }

func dec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return v
}

// newFixture returns an engine with loan type 1 holding a USDC pool (6
// decimals, $1) and an ETH pool (18 decimals, $3000).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		state:    NewMemState(),
		prices:   NewStaticPriceFeed(),
		recorder: events.NewRecorder(0),
		policy:   NewRolePolicy(),
		admin:    account(0xAD),
		now:      1_700_000_000,
	}
	f.engine = NewEngine(f.state, f.prices)
	f.engine.SetEmitter(f.recorder)
	f.engine.SetPolicy(f.policy)
	f.engine.SetClock(func() time.Time { return time.Unix(f.now, 0) })
	f.policy.Grant(f.admin, RoleListingAdmin)
	f.policy.Grant(f.admin, RoleRiskAdmin)

	f.setPrice(poolUSDC, 1, 6)
	f.setPrice(poolETH, 3000, 18)
	if err := f.engine.CreateLoanType(f.admin, testLoanType, 12_000); err != nil {
		t.Fatalf("create loan type: %v", err)
	}
	for _, pool := range []types.PoolID{poolUSDC, poolETH} {
		if err := f.engine.AddPoolToLoanType(f.admin, testLoanType, pool, testPoolConfig(), testInterestConfig()); err != nil {
			t.Fatalf("add pool %d: %v", pool, err)
		}
	}
	f.recorder.Reset()
	return f
}

func (f *fixture) setPrice(pool types.PoolID, dollars uint64, decimals uint8) {
	f.t.Helper()
	if err := f.prices.Set(pool, new(uint256.Int).Mul(uint256.NewInt(dollars), One18DP), decimals); err != nil {
		f.t.Fatalf("set price: %v", err)
	}
}

func (f *fixture) advance(seconds int64) { f.now += seconds }

func (f *fixture) openLoan(owner types.AccountID, nonce byte) types.LoanID {
	f.t.Helper()
	id, err := f.engine.CreateUserLoan(owner, [4]byte{nonce}, testLoanType, "test")
	if err != nil {
		f.t.Fatalf("create loan: %v", err)
	}
	return id
}

func (f *fixture) deposit(owner types.AccountID, loan types.LoanID, pool types.PoolID, amount *uint256.Int) {
	f.t.Helper()
	if _, err := f.engine.Deposit(owner, loan, pool, amount); err != nil {
		f.t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) borrow(owner types.AccountID, loan types.LoanID, pool types.PoolID, amount, maxStableRate *uint256.Int) {
	f.t.Helper()
	if err := f.engine.Borrow(owner, loan, pool, amount, maxStableRate); err != nil {
		f.t.Fatalf("borrow: %v", err)
	}
}

func (f *fixture) loan(id types.LoanID) *UserLoan {
	f.t.Helper()
	loan, err := f.state.UserLoan(id)
	if err != nil || loan == nil {
		f.t.Fatalf("load loan %s: %v", id, err)
	}
	return loan
}

func (f *fixture) pool(pool types.PoolID) *LoanPool {
	f.t.Helper()
	p, err := f.state.LoanPool(testLoanType, pool)
	if err != nil || p == nil {
		f.t.Fatalf("load pool %d: %v", pool, err)
	}
	return p
}

// fundUSDC opens a loan for a dedicated lender and supplies amount USDC so
// that borrowers find liquidity.
func (f *fixture) fundUSDC(amount *uint256.Int) types.LoanID {
	f.t.Helper()
	lender := account(0x01)
	loan := f.openLoan(lender, 0xF0)
	f.deposit(lender, loan, poolUSDC, amount)
	return loan
}
