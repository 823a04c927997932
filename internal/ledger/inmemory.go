package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperr "github.com/obverse/obverse/internal/errors"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	transactions map[string]Transaction
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{transactions: make(map[string]Transaction)}
}

func (l *inMemoryLedger) Record(_ context.Context, tx Transaction) (Transaction, error) {
	tx, err := prepare(tx, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.transactions[tx.ID]; ok {
		return existing, ErrDuplicateTransaction
	}
	l.transactions[tx.ID] = tx
	return tx, nil
}

func (l *inMemoryLedger) MarkConfirmed(_ context.Context, id, txHash string, at time.Time) error {
	return l.settle(id, func(tx *Transaction) {
		ts := at.UTC()
		tx.Status = StatusConfirmed
		tx.TxHash = txHash
		tx.ConfirmedAt = &ts
		tx.UpdatedAt = ts
	})
}

func (l *inMemoryLedger) MarkFailed(_ context.Context, id, failureCode string, at time.Time) error {
	return l.settle(id, func(tx *Transaction) {
		tx.Status = StatusFailed
		tx.FailureCode = failureCode
		tx.UpdatedAt = at.UTC()
	})
}

func (l *inMemoryLedger) settle(id string, apply func(*Transaction)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[id]
	if !ok {
		return apperr.NotFound("transaction not found")
	}
	if tx.Status != StatusPending {
		return ErrInvalidTransition
	}
	apply(&tx)
	l.transactions[id] = tx
	return nil
}

func (l *inMemoryLedger) Get(_ context.Context, id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.transactions[id]
	if !ok {
		return Transaction{}, apperr.NotFound("transaction not found")
	}
	return tx, nil
}

func (l *inMemoryLedger) ListByWallet(_ context.Context, walletID string, limit int) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.transactions {
		if tx.WalletID == walletID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
