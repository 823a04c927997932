package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/lease"
	"github.com/obverse/obverse/internal/ledger"
	"github.com/obverse/obverse/internal/notification"
	"github.com/obverse/obverse/internal/wallet"
)

const releaseTimeout = 3 * time.Second

// WalletSource loads wallets by identifier.
type WalletSource interface {
	Get(ctx context.Context, id string) (wallet.Wallet, error)
}

// Service runs swaps for stored wallets. It serialises flows per wallet with a
// lease and keeps an audit record of every attempt in the ledger.
type Service struct {
	orchestrator *Orchestrator
	wallets      WalletSource
	ledger       ledger.Ledger
	locker       lease.Locker
	leaseTTL     time.Duration
	slippageBps  int
	notifier     notification.Notifier
	logger       *slog.Logger
	now          func() time.Time
}

// ServiceConfig carries the collaborators of a Service.
type ServiceConfig struct {
	Orchestrator *Orchestrator
	Wallets      WalletSource
	Ledger       ledger.Ledger
	Locker       lease.Locker
	LeaseTTL     time.Duration
	SlippageBps  int
	Notifier     notification.Notifier
	Logger       *slog.Logger
}

// NewService builds a swap service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		orchestrator: cfg.Orchestrator,
		wallets:      cfg.Wallets,
		ledger:       cfg.Ledger,
		locker:       cfg.Locker,
		leaseTTL:     cfg.LeaseTTL,
		slippageBps:  cfg.SlippageBps,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// BuyInput asks for an exact amount of a stablecoin paid in SOL.
type BuyInput struct {
	WalletID    string
	Token       string
	Amount      decimal.Decimal
	SlippageBps int
	// Quiet suppresses the settlement notification for callers that report
	// the outcome themselves.
	Quiet bool
}

// Outcome pairs the workflow result with its ledger record.
type Outcome struct {
	Result      Result
	Transaction ledger.Transaction
}

// DefaultSlippageBps is the tolerance applied when a request omits one.
func (s *Service) DefaultSlippageBps() int { return s.slippageBps }

// Preview quotes a purchase without committing to it.
func (s *Service) Preview(ctx context.Context, in BuyInput) (Result, error) {
	w, err := s.wallets.Get(ctx, in.WalletID)
	if err != nil {
		return Result{}, err
	}
	return s.orchestrator.Preview(ctx, s.request(w, in))
}

// Buy executes a targeted purchase. Only one swap per wallet runs at a time;
// a concurrent attempt fails with a busy error.
func (s *Service) Buy(ctx context.Context, in BuyInput) (Outcome, error) {
	w, err := s.wallets.Get(ctx, in.WalletID)
	if err != nil {
		return Outcome{}, err
	}

	req := s.request(w, in)
	if err := s.orchestrator.Validate(req); err != nil {
		return Outcome{}, err
	}

	held, err := s.locker.Acquire(ctx, "swap:"+w.ID, s.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return Outcome{}, apperr.New(apperr.CodeBusy, "another swap is in progress for this wallet")
		}
		return Outcome{}, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil {
			s.logger.Warn("release swap lease", slog.String("wallet_id", w.ID), slog.Any("error", err))
		}
	}()

	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		ID:          uuid.NewString(),
		UserID:      w.UserID,
		WalletID:    w.ID,
		Chain:       w.Chain,
		Type:        ledger.TypeBuy,
		Status:      ledger.StatusPending,
		FromAddress: w.Address,
		TokenSymbol: req.TargetToken,
		Amount:      req.TargetAmount.String(),
	})
	if err != nil {
		return Outcome{}, err
	}

	res, runErr := s.orchestrator.ExecuteTargetedSwap(ctx, req)
	if !res.InputSOL().IsZero() {
		tx.InputAmount = res.InputSOL().String()
	}
	settledAt := s.now().UTC()
	// Settlement is recorded even when the caller's context is gone.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if runErr != nil {
		code := apperr.CodeOf(runErr).String()
		if err := s.ledger.MarkFailed(settleCtx, tx.ID, code, settledAt); err != nil {
			s.logger.Error("mark swap failed", slog.String("transaction_id", tx.ID), slog.Any("error", err))
		}
		tx.Status = ledger.StatusFailed
		tx.FailureCode = code
		return Outcome{Result: res, Transaction: tx}, runErr
	}

	if err := s.ledger.MarkConfirmed(settleCtx, tx.ID, res.Signature, settledAt); err != nil {
		s.logger.Error("mark swap confirmed", slog.String("transaction_id", tx.ID), slog.Any("error", err))
	}
	tx.Status = ledger.StatusConfirmed
	tx.TxHash = res.Signature
	tx.ConfirmedAt = &settledAt
	if !in.Quiet {
		s.notify(settleCtx, w, res)
	}
	return Outcome{Result: res, Transaction: tx}, nil
}

// History lists the wallet's most recent ledger records.
func (s *Service) History(ctx context.Context, walletID string, limit int) ([]ledger.Transaction, error) {
	if _, err := s.wallets.Get(ctx, walletID); err != nil {
		return nil, err
	}
	return s.ledger.ListByWallet(ctx, walletID, limit)
}

func (s *Service) request(w wallet.Wallet, in BuyInput) Request {
	slippage := in.SlippageBps
	if slippage == 0 {
		slippage = s.slippageBps
	}
	return Request{Wallet: w, TargetToken: strings.ToUpper(strings.TrimSpace(in.Token)), TargetAmount: in.Amount, SlippageBps: slippage}
}

func (s *Service) notify(ctx context.Context, w wallet.Wallet, res Result) {
	if s.notifier == nil {
		return
	}
	msg := notification.Message{
		Kind:        notification.KindSwapSettled,
		Destination: w.UserID,
		Body: fmt.Sprintf("Bought %s %s for %s SOL. Signature: %s",
			res.ExpectedOutput.String(), res.TargetToken, res.InputSOL().String(), res.Signature),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("swap notification", slog.String("wallet_id", w.ID), slog.Any("error", err))
	}
}
