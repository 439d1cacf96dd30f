// Package bank is an in-memory asset custodian implementing the ledger's
// AssetTransfer and ShareToken collaborator contracts. It backs tests and
// the single-binary dev server; a production deployment would substitute a
// real settlement integration.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

var (
	// ErrInsufficientBalance is returned when a Pull source cannot cover
	// the amount.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")

	// ErrInsufficientLiquidity is returned when a Push exceeds the
	// ledger's custody balance.
	ErrInsufficientLiquidity = errors.New("bank: insufficient custody liquidity")

	// ErrInsufficientShares is returned when a Burn exceeds the holder's
	// share balance.
	ErrInsufficientShares = errors.New("bank: insufficient shares")
)

// custodyAccount is the internal account holding assets pulled by the ledger.
const custodyAccount = "__custody__"

// Memory is a thread-safe in-memory bank keyed by asset then account.
type Memory struct {
	mu       sync.Mutex
	balances map[string]map[string]sdkmath.Int
	shares   map[string]sdkmath.Int
}

// NewMemory creates an empty bank.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]map[string]sdkmath.Int),
		shares:   make(map[string]sdkmath.Int),
	}
}

func (m *Memory) balance(asset, account string) sdkmath.Int {
	accounts, ok := m.balances[asset]
	if !ok {
		return sdkmath.ZeroInt()
	}
	bal, ok := accounts[account]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

func (m *Memory) setBalance(asset, account string, bal sdkmath.Int) {
	accounts, ok := m.balances[asset]
	if !ok {
		accounts = make(map[string]sdkmath.Int)
		m.balances[asset] = accounts
	}
	accounts[account] = bal
}

// Credit adds funds to an account. Used to seed test and dev balances.
func (m *Memory) Credit(asset, account string, amount sdkmath.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBalance(asset, account, m.balance(asset, account).Add(amount))
}

// Balance reports an account's balance.
func (m *Memory) Balance(asset, account string) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(asset, account)
}

// CustodyBalance reports the ledger custody balance for an asset.
func (m *Memory) CustodyBalance(asset string) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(asset, custodyAccount)
}

// Pull moves amount from the account into ledger custody.
func (m *Memory) Pull(_ context.Context, asset, from string, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balance(asset, from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s", ErrInsufficientBalance, from, bal, asset, amount)
	}
	m.setBalance(asset, from, bal.Sub(amount))
	m.setBalance(asset, custodyAccount, m.balance(asset, custodyAccount).Add(amount))
	return nil
}

// Push moves amount from ledger custody to the account.
func (m *Memory) Push(_ context.Context, asset, to string, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	custody := m.balance(asset, custodyAccount)
	if custody.LT(amount) {
		return fmt.Errorf("%w: custody has %s %s, need %s", ErrInsufficientLiquidity, custody, asset, amount)
	}
	m.setBalance(asset, custodyAccount, custody.Sub(amount))
	m.setBalance(asset, to, m.balance(asset, to).Add(amount))
	return nil
}

// Mint issues pool shares to a holder.
func (m *Memory) Mint(_ context.Context, to string, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.shares[to]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	m.shares[to] = cur.Add(amount)
	return nil
}

// Burn destroys pool shares held by a holder.
func (m *Memory) Burn(_ context.Context, from string, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.shares[from]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	if cur.LT(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientShares, from, cur, amount)
	}
	m.shares[from] = cur.Sub(amount)
	return nil
}

// Shares reports a holder's share balance.
func (m *Memory) Shares(holder string) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.shares[holder]; ok {
		return cur
	}
	return sdkmath.ZeroInt()
}
