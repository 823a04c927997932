package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/wallet"
)

const defaultChain = wallet.ChainSolana

// WalletProvisioner creates custodial wallets.
type WalletProvisioner interface {
	Create(ctx context.Context, input wallet.CreateInput) (wallet.Wallet, error)
	PrimaryForUser(ctx context.Context, userID string) (wallet.Wallet, error)
}

// Service manages the user lifecycle.
type Service struct {
	repo    Repository
	wallets WalletProvisioner
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository, wallets WalletProvisioner, logger *slog.Logger) *Service {
	return &Service{repo: repo, wallets: wallets, logger: logger, now: time.Now}
}

// Register creates a user for a chat identity.
func (s *Service) Register(ctx context.Context, p Profile) (User, error) {
	if p.TelegramID == 0 {
		return User{}, apperr.Validation("telegram id is required")
	}
	now := s.now().UTC()
	user := User{
		ID:                   uuid.NewString(),
		TelegramID:           p.TelegramID,
		Username:             strings.TrimPrefix(strings.TrimSpace(p.Username), "@"),
		DefaultChain:         defaultChain,
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Get fetches a user by identifier.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// GetByTelegramID fetches a user by chat identifier.
func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	return s.repo.FindByTelegramID(ctx, telegramID)
}

// AttachWallet provisions a new custodial wallet and links it to the user.
func (s *Service) AttachWallet(ctx context.Context, userID string) (wallet.Wallet, error) {
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		return wallet.Wallet{}, err
	}
	w, err := s.wallets.Create(ctx, wallet.CreateInput{UserID: userID})
	if err != nil {
		return wallet.Wallet{}, err
	}
	if err := s.repo.AddWallet(ctx, userID, w.ID, s.now()); err != nil {
		return wallet.Wallet{}, err
	}
	return w, nil
}

// Onboarding is the result of EnsureRegistered.
type Onboarding struct {
	User    User
	Wallet  wallet.Wallet
	Created bool
}

// EnsureRegistered returns the user and primary wallet for a chat identity,
// registering the user and creating a first wallet when either is missing.
func (s *Service) EnsureRegistered(ctx context.Context, p Profile) (Onboarding, error) {
	user, err := s.repo.FindByTelegramID(ctx, p.TelegramID)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		user, err = s.Register(ctx, p)
		if err != nil {
			return Onboarding{}, err
		}
		created = true
	default:
		return Onboarding{}, err
	}

	w, err := s.wallets.PrimaryForUser(ctx, user.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		w, err = s.AttachWallet(ctx, user.ID)
	}
	if err != nil {
		return Onboarding{}, err
	}

	if created {
		s.logger.Info("user onboarded", slog.String("user_id", user.ID), slog.String("wallet_id", w.ID))
	}
	return Onboarding{User: user, Wallet: w, Created: created}, nil
}
