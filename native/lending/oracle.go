package lending

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"lendhub/core/types"
)

// PriceFeed supplies 18 decimal dollar prices together with the number of
// decimals of the pool's underlying asset.
type PriceFeed interface {
	PriceOf(pool types.PoolID) (*uint256.Int, uint8, error)
}

// PoolHook receives the token movements implied by a committed operation.
// Hooks run before the state change is written; returning an error aborts the
// call.
type PoolHook interface {
	OnDeposit(account types.AccountID, pool types.PoolID, amount, fAmount *uint256.Int) error
	OnDepositFToken(account types.AccountID, pool types.PoolID, fAmount *uint256.Int) error
	OnWithdraw(account types.AccountID, pool types.PoolID, fAmount, amount *uint256.Int) error
	OnWithdrawFToken(account types.AccountID, pool types.PoolID, fAmount *uint256.Int) error
	OnBorrow(account types.AccountID, pool types.PoolID, amount *uint256.Int) error
	OnRepay(account types.AccountID, pool types.PoolID, amount, refund *uint256.Int) error
	OnMintReserve(pool types.PoolID, fAmount *uint256.Int) error
}

// NoopPoolHook accepts every movement.
type NoopPoolHook struct{}

func (NoopPoolHook) OnDeposit(types.AccountID, types.PoolID, *uint256.Int, *uint256.Int) error {
	return nil
}

func (NoopPoolHook) OnDepositFToken(types.AccountID, types.PoolID, *uint256.Int) error {
	return nil
}

func (NoopPoolHook) OnWithdraw(types.AccountID, types.PoolID, *uint256.Int, *uint256.Int) error {
	return nil
}

func (NoopPoolHook) OnWithdrawFToken(types.AccountID, types.PoolID, *uint256.Int) error {
	return nil
}

func (NoopPoolHook) OnBorrow(types.AccountID, types.PoolID, *uint256.Int) error {
	return nil
}

func (NoopPoolHook) OnRepay(types.AccountID, types.PoolID, *uint256.Int, *uint256.Int) error {
	return nil
}

func (NoopPoolHook) OnMintReserve(types.PoolID, *uint256.Int) error {
	return nil
}

// AccountRegistry reports whether an account exists in the hub's account
// manager.
type AccountRegistry interface {
	IsRegistered(account types.AccountID) bool
}

type openRegistry struct{}

func (openRegistry) IsRegistered(types.AccountID) bool { return true }

type price struct {
	value    *uint256.Int
	decimals uint8
}

// StaticPriceFeed is an in-memory feed whose prices are pushed by an
// operator.
type StaticPriceFeed struct {
	mu     sync.RWMutex
	prices map[types.PoolID]price
}

// NewStaticPriceFeed returns an empty feed.
func NewStaticPriceFeed() *StaticPriceFeed {
	return &StaticPriceFeed{prices: make(map[types.PoolID]price)}
}

// Set records the price for pool.
func (f *StaticPriceFeed) Set(pool types.PoolID, value *uint256.Int, decimals uint8) error {
	if value == nil || value.IsZero() {
		return fmt.Errorf("%w: price for pool %d must be positive", ErrInvalidAmount, pool)
	}
	if decimals > MaxDecimals {
		return fmt.Errorf("%w: pool %d decimals %d above %d", ErrInvalidAmount, pool, decimals, MaxDecimals)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[pool] = price{value: value.Clone(), decimals: decimals}
	return nil
}

// PriceOf implements PriceFeed.
func (f *StaticPriceFeed) PriceOf(pool types.PoolID) (*uint256.Int, uint8, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[pool]
	if !ok {
		return nil, 0, fmt.Errorf("%w: pool %d", ErrPriceUnavailable, pool)
	}
	return p.value.Clone(), p.decimals, nil
}
