package payments

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/ledger"
	"github.com/obverse/obverse/internal/notification"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

// KindPaymentReceived is sent to the merchant when a link is paid.
const KindPaymentReceived = "payment_received"

const (
	linkIDPrefix  = "pl_"
	maxExpiry     = 30 * 24 * time.Hour
	sweepPageSize = 100
)

// ledgerNamespace derives ledger ids from link and signature so a payment is
// recorded once.
var ledgerNamespace = uuid.MustParse("6c1f8a40-5d0e-4c53-9b8e-2f1d7c3a9e10")

// Wallets resolves the merchant's receiving wallet.
type Wallets interface {
	PrimaryForUser(ctx context.Context, userID string) (wallet.Wallet, error)
}

// Service manages merchant payment links.
type Service struct {
	repo     Repository
	wallets  Wallets
	tokens   *tokens.Registry
	ledger   ledger.Ledger
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a payment link service.
func NewService(repo Repository, wallets Wallets, registry *tokens.Registry, ledger ledger.Ledger, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		wallets:  wallets,
		tokens:   registry,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateInput captures a merchant's link request.
type CreateInput struct {
	MerchantUserID string
	Amount         decimal.Decimal
	Token          string
	Description    string
	SingleUse      bool
	ExpiresIn      time.Duration
	WebhookURL     string
	RedirectURL    string
}

// ConfirmInput reports an on-chain payment against a link.
type ConfirmInput struct {
	TxHash       string
	PaidByUserID string
}

// Create issues a link paying into the merchant's primary wallet.
func (s *Service) Create(ctx context.Context, in CreateInput) (Link, error) {
	if strings.TrimSpace(in.MerchantUserID) == "" {
		return Link{}, apperr.Validation("merchant user id is required")
	}
	if !in.Amount.IsPositive() {
		return Link{}, apperr.Validation("amount must be greater than zero")
	}
	if in.ExpiresIn < 0 || in.ExpiresIn > maxExpiry {
		return Link{}, apperr.Validation("expiry must be between 0 and 30 days")
	}
	tok, err := s.tokens.Lookup(in.Token)
	if err != nil {
		return Link{}, err
	}
	if in.Amount.Exponent() < -tok.Decimals {
		return Link{}, apperr.Validation(fmt.Sprintf("%s supports at most %d decimal places", tok.Symbol, tok.Decimals))
	}
	if err := checkURL("webhook_url", in.WebhookURL); err != nil {
		return Link{}, err
	}
	if err := checkURL("redirect_url", in.RedirectURL); err != nil {
		return Link{}, err
	}

	w, err := s.wallets.PrimaryForUser(ctx, in.MerchantUserID)
	if err != nil {
		return Link{}, err
	}
	if !w.Active {
		return Link{}, apperr.Validation("wallet is deactivated")
	}

	id, err := newLinkID()
	if err != nil {
		return Link{}, err
	}
	now := s.now().UTC()
	link := Link{
		ID:             id,
		MerchantUserID: in.MerchantUserID,
		WalletID:       w.ID,
		Address:        w.Address,
		Chain:          w.Chain,
		Amount:         in.Amount.String(),
		TokenSymbol:    tok.Symbol,
		TokenAddress:   tok.Mint,
		Description:    strings.TrimSpace(in.Description),
		SingleUse:      in.SingleUse,
		WebhookURL:     in.WebhookURL,
		RedirectURL:    in.RedirectURL,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.ExpiresIn > 0 {
		expires := now.Add(in.ExpiresIn)
		link.ExpiresAt = &expires
	}

	if err := s.repo.Create(ctx, link); err != nil {
		return Link{}, err
	}
	s.logger.Info("payment link created", slog.String("link_id", link.ID), slog.String("merchant_user_id", link.MerchantUserID))
	return link, nil
}

// Get returns a link, expiring it first when its deadline has passed.
func (s *Service) Get(ctx context.Context, id string) (Link, error) {
	link, err := s.repo.Get(ctx, id)
	if err != nil {
		return Link{}, err
	}
	if !link.Due(s.now()) {
		return link, nil
	}
	return s.expire(ctx, link)
}

// ListByMerchant returns the merchant's links newest first.
func (s *Service) ListByMerchant(ctx context.Context, merchantUserID string, activeOnly bool) ([]Link, error) {
	links, err := s.repo.ListByMerchant(ctx, merchantUserID, activeOnly)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := links[:0]
	for _, link := range links {
		if link.Due(now) {
			if link, err = s.expire(ctx, link); err != nil {
				return nil, err
			}
			if activeOnly {
				continue
			}
		}
		out = append(out, link)
	}
	return out, nil
}

// Confirm records a payment. Single-use links close; reusable links stay
// active and count the payment.
func (s *Service) Confirm(ctx context.Context, id string, in ConfirmInput) (Link, error) {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(in.TxHash))
	if err != nil {
		return Link{}, apperr.Validation("tx_hash is not a valid transaction signature")
	}
	link, err := s.Get(ctx, id)
	if err != nil {
		return Link{}, err
	}
	if link.Status != StatusActive {
		return Link{}, fmt.Errorf("confirm %s link: %w", link.Status, ErrNotActive)
	}
	if link.PaymentTxHash == sig.String() {
		return Link{}, apperr.New(apperr.CodeConflict, "payment already recorded")
	}

	paidAt := s.now().UTC()
	if err := s.repo.RecordPayment(ctx, link.ID, Payment{TxHash: sig.String(), PaidByUserID: in.PaidByUserID, PaidAt: paidAt}, link.SingleUse); err != nil {
		return Link{}, err
	}

	_, err = s.ledger.Record(ctx, ledger.Transaction{
		ID:           uuid.NewSHA1(ledgerNamespace, []byte(link.ID+":"+sig.String())).String(),
		UserID:       link.MerchantUserID,
		WalletID:     link.WalletID,
		Chain:        link.Chain,
		Type:         ledger.TypeReceive,
		Status:       ledger.StatusConfirmed,
		TxHash:       sig.String(),
		TokenSymbol:  link.TokenSymbol,
		TokenAddress: link.TokenAddress,
		Amount:       link.Amount,
		CreatedAt:    paidAt,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		s.logger.Error("payment ledger entry", slog.String("link_id", link.ID), slog.Any("error", err))
	}

	s.logger.Info("payment link paid", slog.String("link_id", link.ID), slog.String("signature", sig.String()))
	if s.notifier != nil {
		msg := notification.Message{
			Kind:        KindPaymentReceived,
			Destination: link.MerchantUserID,
			Body:        fmt.Sprintf("Payment link %s was paid: %s %s.", link.ID, link.Amount, link.TokenSymbol),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("payment notification", slog.String("link_id", link.ID), slog.Any("error", err))
		}
	}
	return s.repo.Get(ctx, link.ID)
}

// Cancel closes an active link.
func (s *Service) Cancel(ctx context.Context, id string) (Link, error) {
	link, err := s.Get(ctx, id)
	if err != nil {
		return Link{}, err
	}
	if link.Status != StatusActive {
		return Link{}, fmt.Errorf("cancel %s link: %w", link.Status, ErrNotActive)
	}
	if err := s.repo.SetStatus(ctx, id, StatusActive, StatusCancelled, s.now()); err != nil {
		return Link{}, err
	}
	s.logger.Info("payment link cancelled", slog.String("link_id", id))
	return s.repo.Get(ctx, id)
}

// ExpireDue marks every overdue active link expired and returns how many
// changed.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	count := 0
	for {
		due, err := s.repo.ListDue(ctx, s.now(), sweepPageSize)
		if err != nil {
			return count, err
		}
		for _, link := range due {
			err := s.repo.SetStatus(ctx, link.ID, StatusActive, StatusExpired, s.now())
			if err != nil && !errors.Is(err, ErrNotActive) {
				return count, err
			}
			if err == nil {
				count++
			}
		}
		if len(due) < sweepPageSize {
			break
		}
	}
	if count > 0 {
		s.logger.Info("payment links expired", slog.Int("count", count))
	}
	return count, nil
}

// RunExpiry sweeps overdue links every interval until ctx is done.
func (s *Service) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireDue(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("payment link sweep", slog.Any("error", err))
			}
		}
	}
}

func (s *Service) expire(ctx context.Context, link Link) (Link, error) {
	err := s.repo.SetStatus(ctx, link.ID, StatusActive, StatusExpired, s.now())
	if err != nil && !errors.Is(err, ErrNotActive) {
		return Link{}, err
	}
	return s.repo.Get(ctx, link.ID)
}

func newLinkID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "generate link id", err)
	}
	return linkIDPrefix + base58.Encode(buf), nil
}

func checkURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return apperr.Validation(field + " must be an absolute http(s) URL")
	}
	return nil
}
