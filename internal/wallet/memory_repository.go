package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	apperr "github.com/obverse/obverse/internal/errors"
)

type memoryRepository struct {
	mu        sync.RWMutex
	storage   map[string]Wallet
	addresses map[string]string
}

// NewMemoryRepository constructs an in-memory repository for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Wallet), addresses: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[wallet.ID]; exists {
		return apperr.New(apperr.CodeConflict, "wallet exists")
	}
	if _, exists := r.addresses[wallet.Address]; exists {
		return apperr.New(apperr.CodeDuplicateAddress, "wallet address already stored")
	}
	r.storage[wallet.ID] = clone(wallet)
	r.addresses[wallet.Address] = wallet.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, apperr.NotFound("wallet not found")
	}
	return clone(wallet), nil
}

func (r *memoryRepository) GetByAddress(ctx context.Context, address string) (Wallet, error) {
	r.mu.RLock()
	id, ok := r.addresses[address]
	r.mu.RUnlock()
	if !ok {
		return Wallet{}, apperr.NotFound("wallet not found")
	}
	return r.Get(ctx, id)
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string) ([]Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Wallet
	for _, w := range r.storage {
		if w.UserID == userID {
			out = append(out, clone(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) ReplaceKey(_ context.Context, id, expectedBlob string, key KeyMaterial, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.storage[id]
	if !ok {
		return apperr.NotFound("wallet not found")
	}
	if w.EncryptedKey != expectedBlob {
		return apperr.New(apperr.CodeConflict, "wallet key changed concurrently")
	}
	w.EncryptedKey = key.EncryptedKey
	w.KeySalt = append([]byte(nil), key.Salt...)
	w.KDFIterations = key.KDFIterations
	w.SecretID = key.SecretID
	w.UpdatedAt = at.UTC()
	r.storage[id] = w
	return nil
}

func (r *memoryRepository) UpdateTokenBalance(_ context.Context, id, symbol, balance string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.storage[id]
	if !ok {
		return apperr.NotFound("wallet not found")
	}
	found := false
	for i := range w.Tokens {
		if w.Tokens[i].Symbol == symbol {
			w.Tokens[i].Balance = balance
			found = true
		}
	}
	if !found {
		w.Tokens = append(w.Tokens, Token{Symbol: symbol, Balance: balance})
	}
	w.UpdatedAt = at.UTC()
	r.storage[id] = w
	return nil
}

func (r *memoryRepository) Deactivate(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.storage[id]
	if !ok {
		return apperr.NotFound("wallet not found")
	}
	ts := at.UTC()
	w.Active = false
	w.DeactivatedAt = &ts
	w.UpdatedAt = ts
	r.storage[id] = w
	return nil
}

func clone(w Wallet) Wallet {
	w.Tokens = append([]Token(nil), w.Tokens...)
	w.KeySalt = append([]byte(nil), w.KeySalt...)
	return w
}
