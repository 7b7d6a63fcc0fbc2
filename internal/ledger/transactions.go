package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
)

type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxApproved TxStatus = "approved"
	TxRejected TxStatus = "rejected"
)

const (
	MinDeposit    = 100
	MaxDeposit    = 100000
	MinWithdrawal = 100
)

var ErrTxNotFound = errors.New("transaction not found or already processed")

type Transaction struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Type          TxType     `json:"type"`
	Amount        int64      `json:"amount"`
	Status        TxStatus   `json:"status"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	AdminNotes    string     `json:"admin_notes,omitempty"`
	ProcessedBy   string     `json:"processed_by,omitempty"`
	Reference     string     `json:"reference"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

type TxStore interface {
	SaveTransaction(ctx context.Context, tx Transaction) error
}

// TxNotifier delivers a transaction-update targeted event.
type TxNotifier func(userID string, tx Transaction)

// Processor runs the deposit/withdrawal flow: users request, funds are
// reserved for withdrawals, admins approve or reject. One pending
// transaction per type per user.
type Processor struct {
	mu      sync.Mutex
	pending map[string]*Transaction
	ledger  *Ledger
	store   TxStore
	notify  TxNotifier
}

func NewProcessor(l *Ledger, store TxStore, notify TxNotifier) *Processor {
	return &Processor{
		pending: make(map[string]*Transaction),
		ledger:  l,
		store:   store,
		notify:  notify,
	}
}

func (p *Processor) RequestDeposit(userID string, amount int64, paymentMethod string) (Transaction, error) {
	if amount < MinDeposit {
		return Transaction{}, fmt.Errorf("minimum deposit amount is %d coins", MinDeposit)
	}
	if amount > MaxDeposit {
		return Transaction{}, fmt.Errorf("maximum deposit amount is %d coins", MaxDeposit)
	}
	return p.enqueue(userID, TxDeposit, amount, paymentMethod, "DEP")
}

// RequestWithdrawal reserves the amount against the user's balance
// before the request is queued; the reservation holds until an admin
// processes it.
func (p *Processor) RequestWithdrawal(userID string, amount int64, paymentMethod string) (Transaction, error) {
	if amount < MinWithdrawal {
		return Transaction{}, fmt.Errorf("minimum withdrawal amount is %d coins", MinWithdrawal)
	}
	p.mu.Lock()
	if p.hasPendingLocked(userID, TxWithdrawal) {
		p.mu.Unlock()
		return Transaction{}, fmt.Errorf("you already have a pending withdrawal request")
	}
	p.mu.Unlock()

	if acct, err := p.ledger.Reserve(userID, amount); err != nil {
		return Transaction{}, fmt.Errorf("insufficient available balance: %d coins available (%d reserved)",
			acct.Available(), acct.Reserved)
	}
	tx, err := p.enqueue(userID, TxWithdrawal, amount, paymentMethod, "WTH")
	if err != nil {
		// Lost a race with a concurrent request; undo the reservation.
		p.ledger.Release(userID, amount)
		return Transaction{}, err
	}
	return tx, nil
}

func (p *Processor) enqueue(userID string, typ TxType, amount int64, paymentMethod, refPrefix string) (Transaction, error) {
	id := uuid.New().String()
	tx := &Transaction{
		ID:            id,
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		Status:        TxPending,
		PaymentMethod: paymentMethod,
		Reference:     fmt.Sprintf("%s_%d_%s", refPrefix, time.Now().UnixMilli(), id[:4]),
		CreatedAt:     time.Now(),
	}

	p.mu.Lock()
	if p.hasPendingLocked(userID, typ) {
		p.mu.Unlock()
		return Transaction{}, fmt.Errorf("you already have a pending %s request", typ)
	}
	p.pending[id] = tx
	p.mu.Unlock()

	p.persist(*tx)
	log.Printf("[LEDGER] %s request %s: user=%s amount=%d", typ, tx.Reference, userID, amount)
	return *tx, nil
}

func (p *Processor) hasPendingLocked(userID string, typ TxType) bool {
	for _, tx := range p.pending {
		if tx.UserID == userID && tx.Type == typ {
			return true
		}
	}
	return false
}

// Pending returns the user's queued transactions, or every queued
// transaction when userID is empty.
func (p *Processor) Pending(userID string) []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transaction, 0, len(p.pending))
	for _, tx := range p.pending {
		if userID == "" || tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	return out
}

// Process applies an admin decision. Withdrawal approval re-validates
// that the user still holds both the reserved amount and the covering
// balance; on failure the transaction stays pending for the admin to
// reject instead.
func (p *Processor) Process(txID string, approve bool, notes, adminID string) (Transaction, error) {
	// Claim the transaction up front so two admins cannot process the
	// same one; re-queued only if a withdrawal approval fails its
	// re-validation.
	p.mu.Lock()
	tx, ok := p.pending[txID]
	if !ok {
		p.mu.Unlock()
		return Transaction{}, ErrTxNotFound
	}
	delete(p.pending, txID)
	p.mu.Unlock()

	if approve {
		switch tx.Type {
		case TxDeposit:
			p.ledger.Credit(tx.UserID, tx.Amount)
		case TxWithdrawal:
			if _, err := p.ledger.Settle(tx.UserID, tx.Amount); err != nil {
				p.mu.Lock()
				p.pending[txID] = tx
				p.mu.Unlock()
				return Transaction{}, fmt.Errorf("cannot approve withdrawal: %w", err)
			}
		}
		tx.Status = TxApproved
	} else {
		if tx.Type == TxWithdrawal {
			p.ledger.Release(tx.UserID, tx.Amount)
		}
		tx.Status = TxRejected
	}

	now := time.Now()
	tx.AdminNotes = notes
	tx.ProcessedBy = adminID
	tx.ProcessedAt = &now

	p.persist(*tx)
	if p.notify != nil {
		p.notify(tx.UserID, *tx)
	}
	log.Printf("[LEDGER] transaction %s %s: user=%s amount=%d", tx.Reference, tx.Status, tx.UserID, tx.Amount)
	return *tx, nil
}

func (p *Processor) persist(tx Transaction) {
	if p.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := p.store.SaveTransaction(ctx, tx); err != nil {
			log.Printf("[LEDGER] transaction save failed for %s: %v", tx.ID, err)
		}
	}()
}
