package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperr "github.com/obverse/obverse/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS swap_transactions (
    id            UUID PRIMARY KEY,
    user_id       TEXT NOT NULL DEFAULT '',
    wallet_id     TEXT NOT NULL,
    chain         TEXT NOT NULL DEFAULT '',
    type          TEXT NOT NULL,
    status        TEXT NOT NULL,
    tx_hash       TEXT NOT NULL DEFAULT '',
    from_address  TEXT NOT NULL DEFAULT '',
    token_symbol  TEXT NOT NULL,
    token_address TEXT NOT NULL DEFAULT '',
    amount        NUMERIC NOT NULL,
    input_amount  NUMERIC,
    failure_code  TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    confirmed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS swap_transactions_wallet_idx ON swap_transactions (wallet_id, created_at DESC);`

const selectColumns = `id, user_id, wallet_id, chain, type, status, tx_hash, from_address, token_symbol,
        token_address, amount::text, COALESCE(input_amount::text, ''), failure_code, created_at, updated_at, confirmed_at`

// PostgresLedger persists transactions in PostgreSQL for relational reporting.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureSchema creates the transactions table when missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.Exec(ctx, schema)
	return err
}

// Record inserts a transaction.
func (l *PostgresLedger) Record(ctx context.Context, tx Transaction) (Transaction, error) {
	tx, err := prepare(tx, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return Transaction{}, err
	}
	id, err := uuid.Parse(tx.ID)
	if err != nil {
		return Transaction{}, apperr.Validation("transaction id must be a uuid")
	}

	var inputAmount *string
	if tx.InputAmount != "" {
		inputAmount = &tx.InputAmount
	}
	_, err = l.db.Exec(ctx, `INSERT INTO swap_transactions
        (id, user_id, wallet_id, chain, type, status, tx_hash, from_address, token_symbol, token_address,
         amount, input_amount, failure_code, created_at, updated_at, confirmed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12::numeric, $13, $14, $15, $16)`,
		id, tx.UserID, tx.WalletID, tx.Chain, string(tx.Type), string(tx.Status), tx.TxHash, tx.FromAddress,
		tx.TokenSymbol, tx.TokenAddress, tx.Amount, inputAmount, tx.FailureCode, tx.CreatedAt, tx.UpdatedAt, tx.ConfirmedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, getErr := l.Get(ctx, tx.ID)
			if getErr != nil {
				return Transaction{}, getErr
			}
			return existing, ErrDuplicateTransaction
		}
		return Transaction{}, err
	}
	return tx, nil
}

// MarkConfirmed settles a pending transaction as confirmed.
func (l *PostgresLedger) MarkConfirmed(ctx context.Context, id, txHash string, at time.Time) error {
	return l.settle(ctx, id, `UPDATE swap_transactions SET status = $2, tx_hash = $3, confirmed_at = $4, updated_at = $4 WHERE id = $1`,
		string(StatusConfirmed), txHash, at.UTC())
}

// MarkFailed settles a pending transaction as failed.
func (l *PostgresLedger) MarkFailed(ctx context.Context, id, failureCode string, at time.Time) error {
	return l.settle(ctx, id, `UPDATE swap_transactions SET status = $2, failure_code = $3, updated_at = $4 WHERE id = $1`,
		string(StatusFailed), failureCode, at.UTC())
}

// settle locks the row, checks it is still pending and applies update.
func (l *PostgresLedger) settle(ctx context.Context, id, update string, args ...any) error {
	txID, err := uuid.Parse(id)
	if err != nil {
		return apperr.NotFound("transaction not found")
	}

	dbTx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) // nolint:errcheck

	var status string
	if err := dbTx.QueryRow(ctx, `SELECT status FROM swap_transactions WHERE id = $1 FOR UPDATE`, txID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("transaction not found")
		}
		return err
	}
	if Status(status) != StatusPending {
		return ErrInvalidTransition
	}

	if _, err := dbTx.Exec(ctx, update, append([]any{txID}, args...)...); err != nil {
		return fmt.Errorf("settle transaction: %w", err)
	}
	return dbTx.Commit(ctx)
}

// Get fetches a transaction.
func (l *PostgresLedger) Get(ctx context.Context, id string) (Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, apperr.NotFound("transaction not found")
	}
	row := l.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM swap_transactions WHERE id = $1`, txID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, apperr.NotFound("transaction not found")
		}
		return Transaction{}, err
	}
	return tx, nil
}

// ListByWallet returns the newest transactions of a wallet.
func (l *PostgresLedger) ListByWallet(ctx context.Context, walletID string, limit int) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+selectColumns+` FROM swap_transactions
        WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`, walletID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx          Transaction
		id          uuid.UUID
		typ, status string
		confirmedAt *time.Time
	)
	if err := row.Scan(&id, &tx.UserID, &tx.WalletID, &tx.Chain, &typ, &status, &tx.TxHash, &tx.FromAddress,
		&tx.TokenSymbol, &tx.TokenAddress, &tx.Amount, &tx.InputAmount, &tx.FailureCode,
		&tx.CreatedAt, &tx.UpdatedAt, &confirmedAt); err != nil {
		return Transaction{}, err
	}
	tx.ID = id.String()
	tx.Type = Type(typ)
	tx.Status = Status(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	if confirmedAt != nil {
		ts := confirmedAt.UTC()
		tx.ConfirmedAt = &ts
	}
	return tx, nil
}
