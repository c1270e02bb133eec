package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lendhub/core/types"
	"lendhub/native/lending"
	"lendhub/storage"
)

var (
	lendingTypePrefix    = []byte("lending/type/")
	lendingPoolPrefix    = []byte("lending/pool/")
	lendingLoanPrefix    = []byte("lending/loan/")
	lendingRewardsPrefix = []byte("lending/rewards/")
)

// ErrValueOverflow is returned when a stored integer does not fit 256 bits.
var ErrValueOverflow = errors.New("state: stored value exceeds 256 bits")

func lendingKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func loanTypeKey(id types.LoanTypeID) []byte {
	return lendingKey(lendingTypePrefix, []byte{byte(id >> 8), byte(id)})
}

func loanPoolKey(typeID types.LoanTypeID, pool types.PoolID) []byte {
	return lendingKey(lendingPoolPrefix, []byte{byte(typeID >> 8), byte(typeID), ':', byte(pool)})
}

func userLoanKey(id types.LoanID) []byte {
	return lendingKey(lendingLoanPrefix, id[:])
}

func userRewardsKey(account types.AccountID, pool types.PoolID) []byte {
	return lendingKey(lendingRewardsPrefix, account[:], []byte{':', byte(pool)})
}

type storedLoanType struct {
	ID               types.LoanTypeID
	LoanTargetHealth uint64
	Pools            []byte
	Deprecated       bool
}

type storedPoolConfig struct {
	CollateralFactor      uint64
	BorrowFactor          uint64
	CollateralCap         uint64
	BorrowCap             uint64
	LiquidationBonus      uint64
	LiquidationFee        uint64
	Deprecated            bool
	RewardCollateralSpeed *big.Int
	RewardBorrowSpeed     *big.Int
	RewardMinimumAmount   *big.Int
}

type storedLoanPool struct {
	LoanTypeID                types.LoanTypeID
	PoolID                    types.PoolID
	Config                    storedPoolConfig
	Interest                  lending.InterestRateConfig
	TotalCollateral           *big.Int
	CirculatingFAmount        *big.Int
	TotalVariableBorrow       *big.Int
	TotalStableBorrow         *big.Int
	VariableInterestIndex     *big.Int
	DepositInterestIndex      *big.Int
	VariableInterestRate      *big.Int
	StableInterestRate        *big.Int
	DepositInterestRate       *big.Int
	AverageStableInterestRate *big.Int
	LastUpdateTimestamp       uint64
	TotalRetainedAmount       *big.Int
	ReserveFAmount            *big.Int
	RewardIndexCollateral     *big.Int
	RewardIndexBorrow         *big.Int
	RewardLastUpdateTimestamp uint64
}

type storedCollateral struct {
	PoolID      types.PoolID
	FBalance    *big.Int
	RewardIndex *big.Int
}

type storedBorrow struct {
	PoolID                    types.PoolID
	Amount                    *big.Int
	Balance                   *big.Int
	LastInterestIndex         *big.Int
	StableInterestRate        *big.Int
	LastStableUpdateTimestamp uint64
	RewardIndex               *big.Int
}

type storedUserLoan struct {
	ID          types.LoanID
	AccountID   types.AccountID
	LoanTypeID  types.LoanTypeID
	Name        string
	Collaterals []storedCollateral
	Borrows     []storedBorrow
}

type storedUserPoolRewards struct {
	AccountID          types.AccountID
	PoolID             types.PoolID
	CollateralPoints   *big.Int
	BorrowPoints       *big.Int
	InterestPaidPoints *big.Int
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// decoder collects the first overflow met while converting a record.
type decoder struct {
	err error
}

func (d *decoder) u256(v *big.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	out, overflow := uint256.FromBig(v)
	if overflow && d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrValueOverflow, v)
	}
	return out
}

func newStoredLoanType(t *lending.LoanType) storedLoanType {
	pools := make([]byte, len(t.Pools))
	for i, id := range t.Pools {
		pools[i] = byte(id)
	}
	return storedLoanType{ID: t.ID, LoanTargetHealth: t.LoanTargetHealth, Pools: pools, Deprecated: t.Deprecated}
}

func (s storedLoanType) loanType() *lending.LoanType {
	pools := make([]types.PoolID, len(s.Pools))
	for i, id := range s.Pools {
		pools[i] = types.PoolID(id)
	}
	return &lending.LoanType{ID: s.ID, LoanTargetHealth: s.LoanTargetHealth, Pools: pools, Deprecated: s.Deprecated}
}

func newStoredLoanPool(p *lending.LoanPool) storedLoanPool {
	return storedLoanPool{
		LoanTypeID: p.LoanTypeID,
		PoolID:     p.PoolID,
		Config: storedPoolConfig{
			CollateralFactor:      p.Config.CollateralFactor,
			BorrowFactor:          p.Config.BorrowFactor,
			CollateralCap:         p.Config.CollateralCap,
			BorrowCap:             p.Config.BorrowCap,
			LiquidationBonus:      p.Config.LiquidationBonus,
			LiquidationFee:        p.Config.LiquidationFee,
			Deprecated:            p.Config.Deprecated,
			RewardCollateralSpeed: toBig(p.Config.RewardCollateralSpeed),
			RewardBorrowSpeed:     toBig(p.Config.RewardBorrowSpeed),
			RewardMinimumAmount:   toBig(p.Config.RewardMinimumAmount),
		},
		Interest:                  p.Interest,
		TotalCollateral:           toBig(p.TotalCollateral),
		CirculatingFAmount:        toBig(p.CirculatingFAmount),
		TotalVariableBorrow:       toBig(p.TotalVariableBorrow),
		TotalStableBorrow:         toBig(p.TotalStableBorrow),
		VariableInterestIndex:     toBig(p.VariableInterestIndex),
		DepositInterestIndex:      toBig(p.DepositInterestIndex),
		VariableInterestRate:      toBig(p.VariableInterestRate),
		StableInterestRate:        toBig(p.StableInterestRate),
		DepositInterestRate:       toBig(p.DepositInterestRate),
		AverageStableInterestRate: toBig(p.AverageStableInterestRate),
		LastUpdateTimestamp:       p.LastUpdateTimestamp,
		TotalRetainedAmount:       toBig(p.TotalRetainedAmount),
		ReserveFAmount:            toBig(p.ReserveFAmount),
		RewardIndexCollateral:     toBig(p.RewardIndexCollateral),
		RewardIndexBorrow:         toBig(p.RewardIndexBorrow),
		RewardLastUpdateTimestamp: p.RewardLastUpdateTimestamp,
	}
}

func (s storedLoanPool) loanPool() (*lending.LoanPool, error) {
	var d decoder
	p := &lending.LoanPool{
		LoanTypeID: s.LoanTypeID,
		PoolID:     s.PoolID,
		Config: lending.LoanPoolConfig{
			CollateralFactor:      s.Config.CollateralFactor,
			BorrowFactor:          s.Config.BorrowFactor,
			CollateralCap:         s.Config.CollateralCap,
			BorrowCap:             s.Config.BorrowCap,
			LiquidationBonus:      s.Config.LiquidationBonus,
			LiquidationFee:        s.Config.LiquidationFee,
			Deprecated:            s.Config.Deprecated,
			RewardCollateralSpeed: d.u256(s.Config.RewardCollateralSpeed),
			RewardBorrowSpeed:     d.u256(s.Config.RewardBorrowSpeed),
			RewardMinimumAmount:   d.u256(s.Config.RewardMinimumAmount),
		},
		Interest:                  s.Interest,
		TotalCollateral:           d.u256(s.TotalCollateral),
		CirculatingFAmount:        d.u256(s.CirculatingFAmount),
		TotalVariableBorrow:       d.u256(s.TotalVariableBorrow),
		TotalStableBorrow:         d.u256(s.TotalStableBorrow),
		VariableInterestIndex:     d.u256(s.VariableInterestIndex),
		DepositInterestIndex:      d.u256(s.DepositInterestIndex),
		VariableInterestRate:      d.u256(s.VariableInterestRate),
		StableInterestRate:        d.u256(s.StableInterestRate),
		DepositInterestRate:       d.u256(s.DepositInterestRate),
		AverageStableInterestRate: d.u256(s.AverageStableInterestRate),
		LastUpdateTimestamp:       s.LastUpdateTimestamp,
		TotalRetainedAmount:       d.u256(s.TotalRetainedAmount),
		ReserveFAmount:            d.u256(s.ReserveFAmount),
		RewardIndexCollateral:     d.u256(s.RewardIndexCollateral),
		RewardIndexBorrow:         d.u256(s.RewardIndexBorrow),
		RewardLastUpdateTimestamp: s.RewardLastUpdateTimestamp,
	}
	return p, d.err
}

func newStoredUserLoan(l *lending.UserLoan) storedUserLoan {
	out := storedUserLoan{
		ID:          l.ID,
		AccountID:   l.AccountID,
		LoanTypeID:  l.LoanTypeID,
		Name:        l.Name,
		Collaterals: make([]storedCollateral, len(l.Collaterals)),
		Borrows:     make([]storedBorrow, len(l.Borrows)),
	}
	for i, c := range l.Collaterals {
		out.Collaterals[i] = storedCollateral{PoolID: c.PoolID, FBalance: toBig(c.FBalance), RewardIndex: toBig(c.RewardIndex)}
	}
	for i, b := range l.Borrows {
		out.Borrows[i] = storedBorrow{
			PoolID:                    b.PoolID,
			Amount:                    toBig(b.Amount),
			Balance:                   toBig(b.Balance),
			LastInterestIndex:         toBig(b.LastInterestIndex),
			StableInterestRate:        toBig(b.StableInterestRate),
			LastStableUpdateTimestamp: b.LastStableUpdateTimestamp,
			RewardIndex:               toBig(b.RewardIndex),
		}
	}
	return out
}

func (s storedUserLoan) userLoan() (*lending.UserLoan, error) {
	var d decoder
	loan := &lending.UserLoan{ID: s.ID, AccountID: s.AccountID, LoanTypeID: s.LoanTypeID, Name: s.Name}
	for _, c := range s.Collaterals {
		loan.Collaterals = append(loan.Collaterals, &lending.LoanCollateral{
			PoolID:      c.PoolID,
			FBalance:    d.u256(c.FBalance),
			RewardIndex: d.u256(c.RewardIndex),
		})
	}
	for _, b := range s.Borrows {
		loan.Borrows = append(loan.Borrows, &lending.LoanBorrow{
			PoolID:                    b.PoolID,
			Amount:                    d.u256(b.Amount),
			Balance:                   d.u256(b.Balance),
			LastInterestIndex:         d.u256(b.LastInterestIndex),
			StableInterestRate:        d.u256(b.StableInterestRate),
			LastStableUpdateTimestamp: b.LastStableUpdateTimestamp,
			RewardIndex:               d.u256(b.RewardIndex),
		})
	}
	return loan, d.err
}

// LendingStore persists lending records in a key-value database. Records are
// RLP encoded under keccak hashed keys and every ChangeSet is written through
// a single batch.
type LendingStore struct {
	mu sync.RWMutex
	db storage.Database
}

// NewLendingStore returns a store backed by db.
func NewLendingStore(db storage.Database) *LendingStore {
	return &LendingStore{db: db}
}

func (s *LendingStore) load(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("decode lending record: %w", err)
	}
	return true, nil
}

// LoanType implements lending.Store.
func (s *LendingStore) LoanType(id types.LoanTypeID) (*lending.LoanType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored storedLoanType
	ok, err := s.load(loanTypeKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.loanType(), nil
}

// LoanPool implements lending.Store.
func (s *LendingStore) LoanPool(typeID types.LoanTypeID, pool types.PoolID) (*lending.LoanPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored storedLoanPool
	ok, err := s.load(loanPoolKey(typeID, pool), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.loanPool()
}

// UserLoan implements lending.Store.
func (s *LendingStore) UserLoan(id types.LoanID) (*lending.UserLoan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored storedUserLoan
	ok, err := s.load(userLoanKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.userLoan()
}

// UserPoolRewards implements lending.Store.
func (s *LendingStore) UserPoolRewards(account types.AccountID, pool types.PoolID) (*lending.UserPoolRewards, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stored storedUserPoolRewards
	ok, err := s.load(userRewardsKey(account, pool), &stored)
	if err != nil || !ok {
		return nil, err
	}
	var d decoder
	out := &lending.UserPoolRewards{
		AccountID:          stored.AccountID,
		PoolID:             stored.PoolID,
		CollateralPoints:   d.u256(stored.CollateralPoints),
		BorrowPoints:       d.u256(stored.BorrowPoints),
		InterestPaidPoints: d.u256(stored.InterestPaidPoints),
	}
	return out, d.err
}

// Apply implements lending.Store. Encoding happens before anything is
// written so a bad record leaves the database untouched.
func (s *LendingStore) Apply(changes *lending.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	batch := s.db.NewBatch()
	put := func(key []byte, value interface{}) error {
		encoded, err := rlp.EncodeToBytes(value)
		if err != nil {
			return fmt.Errorf("encode lending record: %w", err)
		}
		batch.Put(key, encoded)
		return nil
	}
	for _, t := range changes.LoanTypes {
		if err := put(loanTypeKey(t.ID), newStoredLoanType(t)); err != nil {
			return err
		}
	}
	for _, p := range changes.LoanPools {
		if err := put(loanPoolKey(p.LoanTypeID, p.PoolID), newStoredLoanPool(p)); err != nil {
			return err
		}
	}
	for _, l := range changes.UserLoans {
		if err := put(userLoanKey(l.ID), newStoredUserLoan(l)); err != nil {
			return err
		}
	}
	for _, id := range changes.DeletedUserLoans {
		batch.Delete(userLoanKey(id))
	}
	for _, r := range changes.Rewards {
		stored := storedUserPoolRewards{
			AccountID:          r.AccountID,
			PoolID:             r.PoolID,
			CollateralPoints:   toBig(r.CollateralPoints),
			BorrowPoints:       toBig(r.BorrowPoints),
			InterestPaidPoints: toBig(r.InterestPaidPoints),
		}
		if err := put(userRewardsKey(r.AccountID, r.PoolID), stored); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return batch.Write()
}
