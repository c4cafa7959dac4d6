// Package ledger tracks escrowed value inside the settlement engine. Balances
// are exact big.Int amounts in base units; the engine's own account holds all
// bid escrow, and only the payment distributor moves value out of it.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// EngineAccount holds all escrowed bid value.
const EngineAccount = "engine"

// ErrInsufficientFunds is returned when a debit exceeds the account balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNonPositiveAmount is returned for zero or negative amounts.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// Ledger is a thread-safe in-memory balance book.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]*big.Int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[string]*big.Int)}
}

func (l *Ledger) balanceLocked(account string) *big.Int {
	b, ok := l.balances[account]
	if !ok {
		b = new(big.Int)
		l.balances[account] = b
	}
	return b
}

// Credit adds amount to an account.
func (l *Ledger) Credit(account string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balanceLocked(account).Add(l.balanceLocked(account), amount)
	return nil
}

// Debit removes amount from an account, failing without effect if the balance
// is too small.
func (l *Ledger) Debit(account string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balanceLocked(account)
	if b.Cmp(amount) < 0 {
		return fmt.Errorf("debit %s from %s: %w", amount, account, ErrInsufficientFunds)
	}
	b.Sub(b, amount)
	return nil
}

// Transfer atomically moves amount between two accounts.
func (l *Ledger) Transfer(from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balanceLocked(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s from %s: %w", amount, from, ErrInsufficientFunds)
	}
	src.Sub(src, amount)

	dst := l.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

// Balance returns a copy of the account balance; unknown accounts are zero.
func (l *Ledger) Balance(account string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}
