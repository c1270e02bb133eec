package lending

import (
	"testing"

	"lendhub/core/types"
)

func TestMemStateSwapRemovesDeletedLoans(t *testing.T) {
	state := NewMemState()
	ids := make([]types.LoanID, 4)
	loans := make([]*UserLoan, 4)
	for i := range ids {
		ids[i] = types.DeriveLoanID(account(byte(i+1)), [4]byte{})
		loans[i] = &UserLoan{ID: ids[i], AccountID: account(byte(i + 1)), LoanTypeID: testLoanType}
	}
	if err := state.Apply(&ChangeSet{UserLoans: loans}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := state.Apply(&ChangeSet{DeletedUserLoans: []types.LoanID{ids[1]}}); err != nil {
		t.Fatalf("apply delete: %v", err)
	}

	got := state.UserLoans()
	want := []types.LoanID{ids[0], ids[3], ids[2]}
	if len(got) != len(want) {
		t.Fatalf("expected %d loans, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], got[i].ID)
		}
	}
	// The moved loan must still be addressable by id.
	moved, err := state.UserLoan(ids[3])
	if err != nil || moved == nil || moved.AccountID != account(4) {
		t.Fatalf("expected moved loan to resolve, got %v %v", moved, err)
	}
	if gone, _ := state.UserLoan(ids[1]); gone != nil {
		t.Fatalf("expected deleted loan to be gone")
	}

	// Deleting the last slot and an unknown id are both harmless.
	if err := state.Apply(&ChangeSet{DeletedUserLoans: []types.LoanID{ids[2], ids[1]}}); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if n := len(state.UserLoans()); n != 2 {
		t.Fatalf("expected 2 loans, got %d", n)
	}
}

func TestMemStateReturnsCopies(t *testing.T) {
	f := newFixture(t)
	owner := account(0x02)
	id := f.openLoan(owner, 1)
	f.deposit(owner, id, poolETH, eth(1))

	loan := f.loan(id)
	loan.Collaterals[0].FBalance.SetUint64(1)
	if f.loan(id).Collaterals[0].FBalance.Eq(loan.Collaterals[0].FBalance) {
		t.Fatalf("expected stored loan to be isolated from callers")
	}
	pool := f.pool(poolETH)
	pool.TotalCollateral.SetUint64(1)
	if f.pool(poolETH).TotalCollateral.Eq(pool.TotalCollateral) {
		t.Fatalf("expected stored pool to be isolated from callers")
	}
}

func TestFailedCallWritesNothing(t *testing.T) {
	f := newFixture(t)
	owner := account(0x02)
	id := f.openLoan(owner, 1)
	f.deposit(owner, id, poolETH, eth(1))
	f.advance(3_600)
	before := f.pool(poolETH)

	// The pool accrues before the borrow is refused, and that accrual must
	// be discarded with the rest of the call.
	if err := f.engine.Borrow(owner, id, poolETH, eth(5), nil); err == nil {
		t.Fatalf("expected borrow to fail")
	}
	after := f.pool(poolETH)
	if after.LastUpdateTimestamp != before.LastUpdateTimestamp {
		t.Fatalf("expected failed call to leave the pool timestamp at %d, got %d", before.LastUpdateTimestamp, after.LastUpdateTimestamp)
	}
}
