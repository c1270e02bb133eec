package lending

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"

	"lendhub/core/types"
)

type actor struct {
	owner types.AccountID
	loan  types.LoanID
}

func randomAmount(rng *rand.Rand, pool types.PoolID, maxUnits int64) *uint256.Int {
	units := uint64(rng.Int63n(maxUnits) + 1)
	if pool == poolETH {
		// Tenths of an ether.
		return new(uint256.Int).Mul(uint256.NewInt(units), uint256.NewInt(1e17))
	}
	return usdc(units)
}

func randomPool(rng *rand.Rand) types.PoolID {
	if rng.Intn(2) == 0 {
		return poolUSDC
	}
	return poolETH
}

func requireConservation(t *testing.T, f *fixture) {
	t.Helper()
	loans := f.state.UserLoans()
	for _, poolID := range []types.PoolID{poolUSDC, poolETH} {
		variable, stable, collateral := zero(), zero(), zero()
		for _, loan := range loans {
			if entry := loan.Borrow(poolID); entry != nil {
				if entry.IsStable() {
					stable.Add(stable, entry.Amount)
				} else {
					variable.Add(variable, entry.Amount)
				}
			}
			if entry := loan.Collateral(poolID); entry != nil {
				collateral.Add(collateral, entry.FBalance)
			}
		}
		pool := f.pool(poolID)
		if !pool.TotalVariableBorrow.Eq(variable) {
			t.Fatalf("pool %d: variable principal %s, entries %s", poolID, pool.TotalVariableBorrow, variable)
		}
		if !pool.TotalStableBorrow.Eq(stable) {
			t.Fatalf("pool %d: stable principal %s, entries %s", poolID, pool.TotalStableBorrow, stable)
		}
		if !pool.TotalCollateral.Eq(collateral) {
			t.Fatalf("pool %d: collateral %s, entries %s", poolID, pool.TotalCollateral, collateral)
		}
	}
}

func TestRandomOperationsPreserveInvariants(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))
	f.fundUSDC(usdc(50_000))
	funder := account(0x01)
	ethLoan := f.openLoan(funder, 0xF1)
	f.deposit(funder, ethLoan, poolETH, eth(20))

	actors := make([]actor, 4)
	for i := range actors {
		owner := account(byte(0x10 + i))
		actors[i] = actor{owner: owner, loan: f.openLoan(owner, 1)}
		f.deposit(owner, actors[i].loan, poolETH, eth(2))
	}

	lastVariable := map[types.PoolID]*uint256.Int{}
	lastDeposit := map[types.PoolID]*uint256.Int{}
	for step := 0; step < 400; step++ {
		f.advance(rng.Int63n(7 * 24 * 3600))
		if rng.Intn(10) == 0 {
			f.setPrice(poolETH, uint64(800+rng.Intn(3_000)), 18)
		}
		a := actors[rng.Intn(len(actors))]
		pool := randomPool(rng)
		var err error
		switch rng.Intn(7) {
		case 0:
			_, err = f.engine.Deposit(a.owner, a.loan, pool, randomAmount(rng, pool, 2_000))
		case 1:
			_, _, err = f.engine.Withdraw(a.owner, a.loan, pool, randomAmount(rng, pool, 2_000), rng.Intn(2) == 0)
		case 2:
			err = f.engine.Borrow(a.owner, a.loan, pool, randomAmount(rng, pool, 1_500), nil)
		case 3:
			err = f.engine.Borrow(a.owner, a.loan, pool, randomAmount(rng, pool, 1_500), One18DP)
		case 4:
			_, err = f.engine.Repay(a.owner, a.loan, pool, randomAmount(rng, pool, 1_500), usdc(1_000_000))
		case 5:
			v := actors[rng.Intn(len(actors))]
			if v.loan != a.loan {
				_, err = f.engine.Liquidate(LiquidationParams{
					ViolatorLoanID:      v.loan,
					LiquidatorLoanID:    a.loan,
					LiquidatorAccountID: a.owner,
					CollateralPoolID:    randomPool(rng),
					BorrowPoolID:        pool,
					RepayAmount:         randomAmount(rng, pool, 1_500),
				})
			}
		case 6:
			err = f.engine.SwitchBorrowType(a.owner, a.loan, pool, One18DP)
		}
		if class := ErrorClass(err); class == ClassArithmetic || class == ClassInternal {
			t.Fatalf("step %d: unexpected failure %v", step, err)
		}

		requireConservation(t, f)
		for _, poolID := range []types.PoolID{poolUSDC, poolETH} {
			p := f.pool(poolID)
			if prev := lastVariable[poolID]; prev != nil && p.VariableInterestIndex.Lt(prev) {
				t.Fatalf("step %d: variable index of pool %d decreased", step, poolID)
			}
			if prev := lastDeposit[poolID]; prev != nil && p.DepositInterestIndex.Lt(prev) {
				t.Fatalf("step %d: deposit index of pool %d decreased", step, poolID)
			}
			lastVariable[poolID] = p.VariableInterestIndex.Clone()
			lastDeposit[poolID] = p.DepositInterestIndex.Clone()

			projected, err := f.engine.GetLoanPool(testLoanType, poolID)
			if err != nil {
				t.Fatalf("get pool: %v", err)
			}
			if projected.VariableInterestIndex.Lt(p.VariableInterestIndex) || projected.DepositInterestIndex.Lt(p.DepositInterestIndex) {
				t.Fatalf("step %d: projected indices behind stored indices", step)
			}
		}
	}
}

func TestStableRateAverageMatchesExactFormula(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		a := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 96))
		b := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 96))
		r1 := new(big.Int).Rand(rng, big.NewInt(1e18))
		r2 := new(big.Int).Rand(rng, big.NewInt(1e18))
		if i%50 == 0 {
			a.SetInt64(0)
		}

		got, err := StableRateAverage(uint256.MustFromBig(a), uint256.MustFromBig(r1), uint256.MustFromBig(b), uint256.MustFromBig(r2))
		if err != nil {
			t.Fatalf("average: %v", err)
		}
		want := new(big.Int)
		if total := new(big.Int).Add(a, b); total.Sign() > 0 {
			want.Add(new(big.Int).Mul(a, r1), new(big.Int).Mul(b, r2))
			want.Quo(want, total)
		}
		if got.ToBig().Cmp(want) != 0 {
			t.Fatalf("a=%s r1=%s b=%s r2=%s: expected %s, got %s", a, r1, b, r2, want, got)
		}
	}
}
