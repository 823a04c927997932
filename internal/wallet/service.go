package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/obverse/obverse/internal/chain"
	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/metrics"
	"github.com/obverse/obverse/internal/tokens"
)

// BalanceReader reads live balances from the chain.
type BalanceReader interface {
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, owner, mint string) (decimal.Decimal, error)
}

// Service exposes wallet operations on behalf of the operator. It holds the
// keyring of operator master secrets that custodial keys are derived from.
type Service struct {
	repo    Repository
	custody *Custody
	oracle  BalanceReader
	tokens  *tokens.Registry
	keys    *Keyring
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds a wallet service instance.
func NewService(repo Repository, custody *Custody, oracle BalanceReader, registry *tokens.Registry, keys *Keyring, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		custody: custody,
		oracle:  oracle,
		tokens:  registry,
		keys:    keys,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	UserID string
}

// Create provisions a custodial wallet for the user.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	w, err := s.custody.CreateCustodialWallet(ctx, input.UserID, s.keys.Current(), nil)
	if err != nil {
		return Wallet{}, err
	}
	metrics.WalletsCreated.Inc()
	s.logger.Info("wallet created", slog.String("wallet_id", w.ID), slog.String("user_id", w.UserID), slog.String("address", w.Address))
	return w, nil
}

// Get retrieves a wallet.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByAddress retrieves a wallet by address.
func (s *Service) GetByAddress(ctx context.Context, address string) (Wallet, error) {
	if _, err := chain.ParseAddress(address); err != nil {
		return Wallet{}, err
	}
	return s.repo.GetByAddress(ctx, address)
}

// ListByUser returns all wallets of a user, including inactive ones.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Wallet, error) {
	return s.repo.ListByUser(ctx, userID)
}

// PrimaryForUser returns the user's oldest active wallet.
func (s *Service) PrimaryForUser(ctx context.Context, userID string) (Wallet, error) {
	wallets, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	for _, w := range wallets {
		if w.Active {
			return w, nil
		}
	}
	return Wallet{}, apperr.NotFound("no active wallet")
}

// RestoreSigningKey recovers the signing key of an active wallet. The caller
// must Wipe the keypair as soon as signing is done.
func (s *Service) RestoreSigningKey(_ context.Context, w Wallet) (*chain.Keypair, error) {
	if !w.Active {
		return nil, apperr.Validation("wallet is deactivated")
	}
	kp, err := s.restore(w)
	if err != nil {
		metrics.KeyRestores.WithLabelValues(apperr.CodeOf(err).String()).Inc()
		s.logger.Error("restore signing key failed", slog.String("wallet_id", w.ID), slog.String("code", apperr.CodeOf(err).String()))
		return nil, err
	}
	metrics.KeyRestores.WithLabelValues("ok").Inc()
	return kp, nil
}

// Verify restores and immediately discards the wallet key, proving the stored
// material is intact.
func (s *Service) Verify(ctx context.Context, id string) error {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	kp, err := s.restore(w)
	if err != nil {
		return err
	}
	kp.Wipe()
	return nil
}

// Rotate re-encrypts a wallet key from the secret it is sealed under to the
// keyring's current secret. Wallets that are not rotated stay readable as long
// as their secret remains in the keyring.
func (s *Service) Rotate(ctx context.Context, id string) (Wallet, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	from, err := s.keys.Lookup(w.SecretID)
	if err != nil {
		return Wallet{}, err
	}
	to := s.keys.Current()
	if from.ID == to.ID {
		return Wallet{}, apperr.Validation("wallet key is already sealed under the current master secret")
	}
	rotated, err := s.custody.RotateKey(ctx, w, from.Value, to)
	if err != nil {
		s.logger.Error("key rotation failed", slog.String("wallet_id", id), slog.String("code", apperr.CodeOf(err).String()))
		return Wallet{}, err
	}
	s.logger.Info("wallet key rotated", slog.String("wallet_id", id), slog.String("from", from.ID), slog.String("to", to.ID))
	return rotated, nil
}

func (s *Service) restore(w Wallet) (*chain.Keypair, error) {
	secret, err := s.keys.Lookup(w.SecretID)
	if err != nil {
		return nil, err
	}
	return s.custody.RestoreSigningKey(w, secret.Value)
}

// Deactivate flags a wallet inactive.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id, s.now()); err != nil {
		return err
	}
	s.logger.Info("wallet deactivated", slog.String("wallet_id", id))
	return nil
}

// StoreBalance records a balance observed for one of the wallet's tokens.
func (s *Service) StoreBalance(ctx context.Context, id, symbol string, balance decimal.Decimal) error {
	return s.repo.UpdateTokenBalance(ctx, id, symbol, balance.String(), s.now().UTC())
}

// NativeBalance reads the live SOL balance of a wallet.
func (s *Service) NativeBalance(ctx context.Context, w Wallet) (decimal.Decimal, error) {
	return s.oracle.NativeBalance(ctx, w.Address)
}

// Balance reads the native balance and every tracked token from the chain and
// stores the results on the wallet record.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}

	native, err := s.oracle.NativeBalance(ctx, w.Address)
	if err != nil {
		return Balance{}, err
	}
	now := s.now().UTC()
	if err := s.repo.UpdateTokenBalance(ctx, w.ID, tokens.NativeSymbol, native.String(), now); err != nil {
		s.storeFailed(w.ID, tokens.NativeSymbol, err)
	}

	out := Balance{WalletID: w.ID, Address: w.Address, Native: native, AsOf: now}
	for _, t := range s.tokens.Stablecoins() {
		amount, err := s.oracle.TokenBalance(ctx, w.Address, t.Mint)
		if err != nil {
			return Balance{}, err
		}
		out.Tokens = append(out.Tokens, TokenBalance{Symbol: t.Symbol, Mint: t.Mint, Balance: amount})
		if err := s.repo.UpdateTokenBalance(ctx, w.ID, t.Symbol, amount.String(), now); err != nil {
			s.storeFailed(w.ID, t.Symbol, err)
		}
	}
	return out, nil
}

func (s *Service) storeFailed(walletID, symbol string, err error) {
	s.logger.Warn("store balance failed", slog.String("wallet_id", walletID), slog.String("token", symbol), slog.String("code", apperr.CodeOf(err).String()))
	s.logger.Debug("store balance failure cause", slog.String("wallet_id", walletID), slog.Any("error", err))
}
