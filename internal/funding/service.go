package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/obverse/obverse/internal/ledger"
	"github.com/obverse/obverse/internal/notification"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

var depositNamespace = uuid.MustParse("3f0d6c1e-8a52-4f7b-9c1d-5b2e7a9f4c80")

// Wallets is the slice of the wallet service funding depends on.
type Wallets interface {
	Get(ctx context.Context, id string) (wallet.Wallet, error)
	PrimaryForUser(ctx context.Context, userID string) (wallet.Wallet, error)
	NativeBalance(ctx context.Context, w wallet.Wallet) (decimal.Decimal, error)
	StoreBalance(ctx context.Context, id, symbol string, balance decimal.Decimal) error
}

// Service explains how to fund a custodial wallet and detects SOL deposits.
type Service struct {
	wallets    Wallets
	ledger     ledger.Ledger
	notifier   notification.Notifier
	feeReserve decimal.Decimal
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds a funding service. notifier may be nil.
func NewService(wallets Wallets, ledgerBackend ledger.Ledger, notifier notification.Notifier, feeReserve decimal.Decimal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		wallets:    wallets,
		ledger:     ledgerBackend,
		notifier:   notifier,
		feeReserve: feeReserve,
		logger:     logger,
		now:        time.Now,
	}
}

// Instructions describes where and what to send.
type Instructions struct {
	WalletID   string
	Address    string
	Asset      string
	FeeReserve decimal.Decimal
}

// Text renders the instructions for a chat reply.
func (i Instructions) Text() string {
	return fmt.Sprintf(
		"Ready to fund your wallet? Send SOL to this address:\n\n`%s`\n\n"+
			"Use any external wallet or exchange. Keep at least %s SOL in the wallet for network fees; "+
			"the rest can be swapped into stablecoins with /buy.",
		i.Address, i.FeeReserve.String())
}

// Instructions returns the deposit details for the user's primary wallet.
func (s *Service) Instructions(ctx context.Context, userID string) (Instructions, error) {
	w, err := s.wallets.PrimaryForUser(ctx, userID)
	if err != nil {
		return Instructions{}, err
	}
	return s.instructionsFor(w), nil
}

// InstructionsForWallet returns the deposit details for a specific wallet.
func (s *Service) InstructionsForWallet(ctx context.Context, walletID string) (Instructions, error) {
	w, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return Instructions{}, err
	}
	return s.instructionsFor(w), nil
}

func (s *Service) instructionsFor(w wallet.Wallet) Instructions {
	return Instructions{WalletID: w.ID, Address: w.Address, Asset: tokens.NativeSymbol, FeeReserve: s.feeReserve}
}

// Deposit is the outcome of a reconciliation pass.
type Deposit struct {
	WalletID    string
	Previous    decimal.Decimal
	Current     decimal.Decimal
	Received    decimal.Decimal
	Transaction *ledger.Transaction
}

// Reconcile compares the live SOL balance with the last stored one. An
// increase is recorded as a confirmed receive entry; the stored balance is
// updated either way. The entry id is derived from the wallet snapshot and
// both balances, so concurrent passes over the same snapshot record the
// deposit once.
func (s *Service) Reconcile(ctx context.Context, walletID string) (Deposit, error) {
	w, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return Deposit{}, err
	}

	previous := decimal.Zero
	if tok, ok := w.Token(tokens.NativeSymbol); ok && tok.Balance != "" {
		if previous, err = decimal.NewFromString(tok.Balance); err != nil {
			s.logger.Warn("stored SOL balance unreadable", slog.String("wallet_id", w.ID), slog.String("balance", tok.Balance))
			previous = decimal.Zero
		}
	}

	current, err := s.wallets.NativeBalance(ctx, w)
	if err != nil {
		return Deposit{}, err
	}
	out := Deposit{WalletID: w.ID, Previous: previous, Current: current, Received: decimal.Zero}
	if current.Equal(previous) {
		return out, nil
	}

	if err := s.wallets.StoreBalance(ctx, w.ID, tokens.NativeSymbol, current); err != nil {
		return Deposit{}, err
	}
	if current.LessThan(previous) {
		return out, nil
	}

	received := current.Sub(previous)
	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		ID:          depositID(w, previous, current),
		UserID:      w.UserID,
		WalletID:    w.ID,
		Chain:       w.Chain,
		Type:        ledger.TypeReceive,
		Status:      ledger.StatusConfirmed,
		TokenSymbol: tokens.NativeSymbol,
		Amount:      received.String(),
		CreatedAt:   s.now().UTC(),
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		s.logger.Debug("deposit already recorded", slog.String("wallet_id", w.ID), slog.String("transaction_id", tx.ID))
		return out, nil
	}
	if err != nil {
		return Deposit{}, err
	}
	out.Received = received
	out.Transaction = &tx
	s.logger.Info("deposit detected", slog.String("wallet_id", w.ID), slog.String("amount", out.Received.String()))

	if s.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindDepositReceived,
			Destination: w.UserID,
			Body:        fmt.Sprintf("Received %s SOL. New balance: %s SOL.", out.Received.String(), current.String()),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("deposit notification", slog.String("wallet_id", w.ID), slog.Any("error", err))
		}
	}
	return out, nil
}

func depositID(w wallet.Wallet, previous, current decimal.Decimal) string {
	name := fmt.Sprintf("%s:%d:%s:%s", w.ID, w.UpdatedAt.UnixMilli(), previous.String(), current.String())
	return uuid.NewSHA1(depositNamespace, []byte(name)).String()
}
