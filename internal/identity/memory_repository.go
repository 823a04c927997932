package identity

import (
	"context"
	"sync"
	"time"

	apperr "github.com/obverse/obverse/internal/errors"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
	byTG  map[int64]string
}

// NewMemoryRepository builds an in-memory user store for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User), byTG: make(map[int64]string)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTG[user.TelegramID]; exists {
		return apperr.New(apperr.CodeConflict, "user already registered")
	}
	user.WalletIDs = append([]string(nil), user.WalletIDs...)
	r.users[user.ID] = user
	r.byTG[user.TelegramID] = user.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, apperr.NotFound("user not found")
	}
	user.WalletIDs = append([]string(nil), user.WalletIDs...)
	return user, nil
}

func (r *memoryRepository) FindByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	r.mu.RLock()
	id, ok := r.byTG[telegramID]
	r.mu.RUnlock()
	if !ok {
		return User{}, apperr.NotFound("user not found")
	}
	return r.FindByID(ctx, id)
}

func (r *memoryRepository) AddWallet(_ context.Context, id, walletID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	for _, existing := range user.WalletIDs {
		if existing == walletID {
			return nil
		}
	}
	user.WalletIDs = append(user.WalletIDs, walletID)
	user.UpdatedAt = at.UTC()
	r.users[id] = user
	return nil
}
