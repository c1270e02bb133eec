package lending

import (
	"errors"
	"testing"

	nativecommon "lendhub/native/common"
)

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestPausedModuleRejectsMutations(t *testing.T) {
	f := newFixture(t)
	owner := account(0x02)
	id := f.openLoan(owner, 1)
	f.engine.SetPauses(pauseSet{"lending": true})

	if _, err := f.engine.Deposit(owner, id, poolETH, eth(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if f.pool(poolETH).TotalCollateral.Sign() != 0 {
		t.Fatalf("expected pool untouched while paused")
	}
	// Configuration stays available so a paused market can be repaired.
	if err := f.engine.UpdateLoanPoolCaps(f.admin, testLoanType, poolETH, 1, 1); err != nil {
		t.Fatalf("update caps while paused: %v", err)
	}
	if _, err := f.engine.GetLoanHealth(id); err != nil {
		t.Fatalf("views while paused: %v", err)
	}
}
