package ledger

import (
	"context"
	"time"

	apperr "github.com/obverse/obverse/internal/errors"
)

var (
	// ErrDuplicateTransaction indicates the transaction identifier already
	// exists and the record call should be treated as idempotent.
	ErrDuplicateTransaction = apperr.New(apperr.CodeConflict, "duplicate transaction")

	// ErrInvalidTransition is returned when settling a transaction that is no
	// longer pending.
	ErrInvalidTransition = apperr.New(apperr.CodeConflict, "transaction already settled")
)

// Type classifies a transaction.
type Type string

const (
	TypeBuy     Type = "buy"
	TypeSell    Type = "sell"
	TypeSend    Type = "send"
	TypeReceive Type = "receive"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Transaction is an audit record of value moving in or out of a wallet.
// Amount is in TokenSymbol units; InputAmount is the SOL spent for buys.
type Transaction struct {
	ID           string     `bson:"_id"`
	UserID       string     `bson:"user_id"`
	WalletID     string     `bson:"wallet_id"`
	Chain        string     `bson:"chain"`
	Type         Type       `bson:"type"`
	Status       Status     `bson:"status"`
	TxHash       string     `bson:"tx_hash,omitempty"`
	FromAddress  string     `bson:"from_address,omitempty"`
	TokenSymbol  string     `bson:"token_symbol"`
	TokenAddress string     `bson:"token_address,omitempty"`
	Amount       string     `bson:"amount"`
	InputAmount  string     `bson:"input_amount,omitempty"`
	FailureCode  string     `bson:"failure_code,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
	ConfirmedAt  *time.Time `bson:"confirmed_at,omitempty"`
}

// Ledger defines the contract implemented by audit backends.
type Ledger interface {
	Record(ctx context.Context, tx Transaction) (Transaction, error)
	MarkConfirmed(ctx context.Context, id, txHash string, at time.Time) error
	MarkFailed(ctx context.Context, id, failureCode string, at time.Time) error
	Get(ctx context.Context, id string) (Transaction, error)
	ListByWallet(ctx context.Context, walletID string, limit int) ([]Transaction, error)
}

const defaultListLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return defaultListLimit
	}
	return limit
}

func prepare(tx Transaction, id string, now time.Time) (Transaction, error) {
	if tx.WalletID == "" {
		return Transaction{}, apperr.Validation("wallet id is required")
	}
	switch tx.Type {
	case TypeBuy, TypeSell, TypeSend, TypeReceive:
	default:
		return Transaction{}, apperr.Validation("unknown transaction type")
	}
	if tx.ID == "" {
		tx.ID = id
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	if tx.Status == StatusConfirmed && tx.ConfirmedAt == nil {
		ts := now
		tx.ConfirmedAt = &ts
	}
	return tx, nil
}
