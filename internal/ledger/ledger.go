// Package ledger owns per-user coin balances: total balance, the
// amount reserved for pending withdrawals, and the derived available
// balance. All mutations for one user are serialized behind that
// user's lock, so a wager debit and a withdrawal reservation can
// never both pass a stale availability check.
package ledger

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

const StartingBalance = 10000

var (
	ErrInsufficientFunds    = errors.New("insufficient available balance")
	ErrInsufficientReserved = errors.New("insufficient reserved balance")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

type Account struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	Reserved  int64     `json:"reserved_balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is balance minus reservations, floored at zero. Derived,
// never stored.
func (a Account) Available() int64 {
	if a.Balance <= a.Reserved {
		return 0
	}
	return a.Balance - a.Reserved
}

// Store persists account state. Writes are best-effort: the in-memory
// ledger is authoritative and is never rolled back on a store failure.
type Store interface {
	LoadAccount(ctx context.Context, userID string) (*Account, error)
	SaveAccount(ctx context.Context, acct Account) error
}

// Notifier is invoked after every balance mutation, outside the user
// lock. Wired to the gateway's balance-update targeted event.
type Notifier func(acct Account)

type entry struct {
	mu     sync.Mutex
	loaded bool
	acct   Account
}

type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*entry
	store    Store
	notify   Notifier
}

// New creates a ledger backed by store (may be nil for memory-only).
func New(store Store, notify Notifier) *Ledger {
	return &Ledger{
		accounts: make(map[string]*entry),
		store:    store,
		notify:   notify,
	}
}

// get returns the locked entry for userID, creating the account on
// first touch. Caller must Unlock. The first-touch store load runs
// under only the per-entry lock: a slow load for one user must not
// hold up every other user's balance operation.
func (l *Ledger) get(userID string) *entry {
	l.mu.Lock()
	e, ok := l.accounts[userID]
	if !ok {
		e = &entry{acct: Account{UserID: userID, Balance: StartingBalance}}
		l.accounts[userID] = e
	}
	l.mu.Unlock()

	e.mu.Lock()
	if !e.loaded {
		e.loaded = true
		if l.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if stored, err := l.store.LoadAccount(ctx, userID); err == nil && stored != nil {
				e.acct = *stored
			}
			cancel()
		}
	}
	return e
}

func (l *Ledger) commit(e *entry) Account {
	e.acct.UpdatedAt = time.Now()
	acct := e.acct
	e.mu.Unlock()

	if l.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := l.store.SaveAccount(ctx, acct); err != nil {
				log.Printf("[LEDGER] save failed for %s: %v", acct.UserID, err)
			}
		}()
	}
	if l.notify != nil {
		l.notify(acct)
	}
	return acct
}

// Get returns the current account state without mutating it.
func (l *Ledger) Get(userID string) Account {
	e := l.get(userID)
	acct := e.acct
	e.mu.Unlock()
	return acct
}

// Debit removes amount from balance if the available balance covers
// it. Returns the account as of the check on failure.
func (l *Ledger) Debit(userID string, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	e := l.get(userID)
	if e.acct.Available() < amount {
		acct := e.acct
		e.mu.Unlock()
		return acct, ErrInsufficientFunds
	}
	e.acct.Balance -= amount
	return l.commit(e), nil
}

// Credit adds amount to balance.
func (l *Ledger) Credit(userID string, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	e := l.get(userID)
	e.acct.Balance += amount
	return l.commit(e), nil
}

// Reserve earmarks amount for a pending withdrawal. The availability
// check and the reservation are one atomic step under the user lock.
func (l *Ledger) Reserve(userID string, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	e := l.get(userID)
	if e.acct.Available() < amount {
		acct := e.acct
		e.mu.Unlock()
		return acct, ErrInsufficientFunds
	}
	e.acct.Reserved += amount
	return l.commit(e), nil
}

// Release returns a reservation without touching the balance.
func (l *Ledger) Release(userID string, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	e := l.get(userID)
	e.acct.Reserved -= amount
	if e.acct.Reserved < 0 {
		e.acct.Reserved = 0
	}
	return l.commit(e), nil
}

// Settle releases a reservation and debits the balance in one step.
// Both preconditions are re-validated here: the user's balance may
// have moved between the reservation and the admin approval.
func (l *Ledger) Settle(userID string, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	e := l.get(userID)
	if e.acct.Reserved < amount {
		acct := e.acct
		e.mu.Unlock()
		return acct, ErrInsufficientReserved
	}
	if e.acct.Balance < amount {
		acct := e.acct
		e.mu.Unlock()
		return acct, ErrInsufficientFunds
	}
	e.acct.Reserved -= amount
	e.acct.Balance -= amount
	return l.commit(e), nil
}

// Adjust applies an admin credit or debit. A debit may not leave the
// balance below the reserved amount, so the reservation invariant
// holds on every path.
func (l *Ledger) Adjust(userID string, delta int64) (Account, error) {
	if delta == 0 {
		return Account{}, ErrInvalidAmount
	}
	e := l.get(userID)
	if delta < 0 && e.acct.Balance+delta < e.acct.Reserved {
		acct := e.acct
		e.mu.Unlock()
		return acct, ErrInsufficientFunds
	}
	e.acct.Balance += delta
	return l.commit(e), nil
}
