package lending

import (
	"sync"

	"lendhub/core/types"
)

// Store is the backing state consumed by the engine. Getters return nil
// without an error when the record does not exist. Apply must write the whole
// change set or nothing.
type Store interface {
	LoanType(id types.LoanTypeID) (*LoanType, error)
	LoanPool(typeID types.LoanTypeID, pool types.PoolID) (*LoanPool, error)
	UserLoan(id types.LoanID) (*UserLoan, error)
	UserPoolRewards(account types.AccountID, pool types.PoolID) (*UserPoolRewards, error)
	Apply(changes *ChangeSet) error
}

// ChangeSet lists the records written by one successful call, in the order
// they were first touched.
type ChangeSet struct {
	LoanTypes        []*LoanType
	LoanPools        []*LoanPool
	UserLoans        []*UserLoan
	DeletedUserLoans []types.LoanID
	Rewards          []*UserPoolRewards
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	return c == nil || len(c.LoanTypes)+len(c.LoanPools)+len(c.UserLoans)+len(c.DeletedUserLoans)+len(c.Rewards) == 0
}

type poolKey struct {
	loanType types.LoanTypeID
	pool     types.PoolID
}

type rewardKey struct {
	account types.AccountID
	pool    types.PoolID
}

// tracked caches records read during a call together with the order in which
// they were marked dirty.
type tracked[K comparable, V any] struct {
	values map[K]V
	dirty  map[K]bool
	order  []K
}

func newTracked[K comparable, V any]() tracked[K, V] {
	return tracked[K, V]{values: make(map[K]V), dirty: make(map[K]bool)}
}

func (t *tracked[K, V]) mark(key K, value V) {
	t.values[key] = value
	if !t.dirty[key] {
		t.dirty[key] = true
		t.order = append(t.order, key)
	}
}

// txn isolates the reads and writes of a single engine call. Every record is
// cloned on first read so a failed call leaves the store untouched.
type txn struct {
	store     Store
	loanTypes tracked[types.LoanTypeID, *LoanType]
	pools     tracked[poolKey, *LoanPool]
	loans     tracked[types.LoanID, *UserLoan]
	rewards   tracked[rewardKey, *UserPoolRewards]
	deleted   []types.LoanID
}

func newTxn(store Store) *txn {
	return &txn{
		store:     store,
		loanTypes: newTracked[types.LoanTypeID, *LoanType](),
		pools:     newTracked[poolKey, *LoanPool](),
		loans:     newTracked[types.LoanID, *UserLoan](),
		rewards:   newTracked[rewardKey, *UserPoolRewards](),
	}
}

func (tx *txn) loanType(id types.LoanTypeID) (*LoanType, error) {
	if v, ok := tx.loanTypes.values[id]; ok {
		return v, nil
	}
	v, err := tx.store.LoanType(id)
	if err != nil {
		return nil, err
	}
	v = v.Clone()
	tx.loanTypes.values[id] = v
	return v, nil
}

func (tx *txn) putLoanType(v *LoanType) { tx.loanTypes.mark(v.ID, v) }

func (tx *txn) loanPool(typeID types.LoanTypeID, pool types.PoolID) (*LoanPool, error) {
	key := poolKey{typeID, pool}
	if v, ok := tx.pools.values[key]; ok {
		return v, nil
	}
	v, err := tx.store.LoanPool(typeID, pool)
	if err != nil {
		return nil, err
	}
	v = v.Clone()
	tx.pools.values[key] = v
	return v, nil
}

func (tx *txn) putLoanPool(v *LoanPool) { tx.pools.mark(poolKey{v.LoanTypeID, v.PoolID}, v) }

func (tx *txn) userLoan(id types.LoanID) (*UserLoan, error) {
	if v, ok := tx.loans.values[id]; ok {
		return v, nil
	}
	v, err := tx.store.UserLoan(id)
	if err != nil {
		return nil, err
	}
	v = v.Clone()
	tx.loans.values[id] = v
	return v, nil
}

func (tx *txn) putUserLoan(v *UserLoan) { tx.loans.mark(v.ID, v) }

func (tx *txn) deleteUserLoan(id types.LoanID) {
	tx.loans.values[id] = nil
	if tx.loans.dirty[id] {
		delete(tx.loans.dirty, id)
		for i, key := range tx.loans.order {
			if key == id {
				tx.loans.order = append(tx.loans.order[:i], tx.loans.order[i+1:]...)
				break
			}
		}
	}
	tx.deleted = append(tx.deleted, id)
}

func (tx *txn) userPoolRewards(account types.AccountID, pool types.PoolID) (*UserPoolRewards, error) {
	key := rewardKey{account, pool}
	if v, ok := tx.rewards.values[key]; ok {
		return v, nil
	}
	v, err := tx.store.UserPoolRewards(account, pool)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = NewUserPoolRewards(account, pool)
	} else {
		v = v.Clone()
	}
	tx.rewards.values[key] = v
	return v, nil
}

func (tx *txn) putUserPoolRewards(v *UserPoolRewards) {
	tx.rewards.mark(rewardKey{v.AccountID, v.PoolID}, v)
}

func (tx *txn) changes() *ChangeSet {
	cs := &ChangeSet{DeletedUserLoans: append([]types.LoanID(nil), tx.deleted...)}
	for _, key := range tx.loanTypes.order {
		cs.LoanTypes = append(cs.LoanTypes, tx.loanTypes.values[key])
	}
	for _, key := range tx.pools.order {
		cs.LoanPools = append(cs.LoanPools, tx.pools.values[key])
	}
	for _, key := range tx.loans.order {
		cs.UserLoans = append(cs.UserLoans, tx.loans.values[key])
	}
	for _, key := range tx.rewards.order {
		cs.Rewards = append(cs.Rewards, tx.rewards.values[key])
	}
	return cs
}

// MemState is an in-memory Store. Pools and loans live in dense slices
// addressed through id indexes.
type MemState struct {
	mu sync.RWMutex

	loanTypes map[types.LoanTypeID]*LoanType

	poolIndex map[poolKey]int
	pools     []*LoanPool

	loanIndex map[types.LoanID]int
	loans     []*UserLoan

	rewards map[rewardKey]*UserPoolRewards
}

// NewMemState returns an empty in-memory store.
func NewMemState() *MemState {
	return &MemState{
		loanTypes: make(map[types.LoanTypeID]*LoanType),
		poolIndex: make(map[poolKey]int),
		loanIndex: make(map[types.LoanID]int),
		rewards:   make(map[rewardKey]*UserPoolRewards),
	}
}

// LoanType implements Store.
func (m *MemState) LoanType(id types.LoanTypeID) (*LoanType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loanTypes[id].Clone(), nil
}

// LoanPool implements Store.
func (m *MemState) LoanPool(typeID types.LoanTypeID, pool types.PoolID) (*LoanPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.poolIndex[poolKey{typeID, pool}]
	if !ok {
		return nil, nil
	}
	return m.pools[i].Clone(), nil
}

// UserLoan implements Store.
func (m *MemState) UserLoan(id types.LoanID) (*UserLoan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.loanIndex[id]
	if !ok {
		return nil, nil
	}
	return m.loans[i].Clone(), nil
}

// UserPoolRewards implements Store.
func (m *MemState) UserPoolRewards(account types.AccountID, pool types.PoolID) (*UserPoolRewards, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rewards[rewardKey{account, pool}].Clone(), nil
}

// UserLoans returns clones of every stored loan in arena order.
func (m *MemState) UserLoans() []*UserLoan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*UserLoan, 0, len(m.loans))
	for _, loan := range m.loans {
		out = append(out, loan.Clone())
	}
	return out
}

// Apply implements Store.
func (m *MemState) Apply(changes *ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range changes.LoanTypes {
		m.loanTypes[t.ID] = t.Clone()
	}
	for _, p := range changes.LoanPools {
		key := poolKey{p.LoanTypeID, p.PoolID}
		if i, ok := m.poolIndex[key]; ok {
			m.pools[i] = p.Clone()
			continue
		}
		m.poolIndex[key] = len(m.pools)
		m.pools = append(m.pools, p.Clone())
	}
	for _, l := range changes.UserLoans {
		if i, ok := m.loanIndex[l.ID]; ok {
			m.loans[i] = l.Clone()
			continue
		}
		m.loanIndex[l.ID] = len(m.loans)
		m.loans = append(m.loans, l.Clone())
	}
	for _, id := range changes.DeletedUserLoans {
		i, ok := m.loanIndex[id]
		if !ok {
			continue
		}
		last := len(m.loans) - 1
		if i != last {
			m.loans[i] = m.loans[last]
			m.loanIndex[m.loans[i].ID] = i
		}
		m.loans[last] = nil
		m.loans = m.loans[:last]
		delete(m.loanIndex, id)
	}
	for _, r := range changes.Rewards {
		m.rewards[rewardKey{r.AccountID, r.PoolID}] = r.Clone()
	}
	return nil
}
