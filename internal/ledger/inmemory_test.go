package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperr "github.com/obverse/obverse/internal/errors"
)

func TestInMemoryLedger_RecordAndConfirm(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	tx, err := l.Record(ctx, Transaction{WalletID: "wallet-a", Type: TypeBuy, TokenSymbol: "USDT", Amount: "15", InputAmount: "0.1"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if tx.ID == "" || tx.Status != StatusPending {
		t.Fatalf("expected pending transaction with id, got %+v", tx)
	}

	if err := l.MarkConfirmed(ctx, tx.ID, "5sig", time.Now()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got, _ := l.Get(ctx, tx.ID)
	if got.Status != StatusConfirmed || got.TxHash != "5sig" || got.ConfirmedAt == nil {
		t.Fatalf("unexpected confirmed transaction %+v", got)
	}

	if err := l.MarkFailed(ctx, tx.ID, "broadcast", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestInMemoryLedger_DuplicateTransaction(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if _, err := l.Record(ctx, Transaction{ID: "dup", WalletID: "wallet-a", Type: TypeReceive, TokenSymbol: "SOL", Amount: "1"}); err != nil {
		t.Fatalf("initial record failed: %v", err)
	}
	if _, err := l.Record(ctx, Transaction{ID: "dup", WalletID: "wallet-a", Type: TypeReceive, TokenSymbol: "SOL", Amount: "1"}); err != ErrDuplicateTransaction {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestInMemoryLedger_Validation(t *testing.T) {
	l := NewInMemory()
	if _, err := l.Record(context.Background(), Transaction{Type: TypeBuy}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error without wallet, got %v", err)
	}
	if _, err := l.Record(context.Background(), Transaction{WalletID: "w", Type: "gift"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	if err := l.MarkConfirmed(context.Background(), "missing", "", time.Now()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryLedger_ConcurrentRecords(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Record(ctx, Transaction{
				ID:          fmt.Sprintf("tx-%d", i),
				WalletID:    "wallet-a",
				Type:        TypeBuy,
				TokenSymbol: "USDC",
				Amount:      "1",
				CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Errorf("record %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := l.ListByWallet(ctx, "wallet-a", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != workers {
		t.Fatalf("expected %d transactions, got %d", workers, len(all))
	}
	if all[0].ID != "tx-9" {
		t.Fatalf("expected newest first, got %s", all[0].ID)
	}

	limited, _ := l.ListByWallet(ctx, "wallet-a", 3)
	if len(limited) != 3 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}
