package payments

import (
	"context"
	"sort"
	"sync"
	"time"

	apperr "github.com/obverse/obverse/internal/errors"
)

type memoryRepository struct {
	mu    sync.RWMutex
	links map[string]Link
}

// NewMemoryRepository builds an in-memory link store for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{links: make(map[string]Link)}
}

func (r *memoryRepository) Create(_ context.Context, link Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.links[link.ID]; exists {
		return apperr.New(apperr.CodeConflict, "payment link id already used")
	}
	r.links[link.ID] = link
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[id]
	if !ok {
		return Link{}, apperr.NotFound("payment link not found")
	}
	return link, nil
}

func (r *memoryRepository) ListByMerchant(_ context.Context, merchantUserID string, activeOnly bool) ([]Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Link, 0)
	for _, link := range r.links {
		if link.MerchantUserID != merchantUserID {
			continue
		}
		if activeOnly && link.Status != StatusActive {
			continue
		}
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) ListDue(_ context.Context, now time.Time, limit int) ([]Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Link, 0)
	for _, link := range r.links {
		if link.Due(now) {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) SetStatus(_ context.Context, id string, from, to Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[id]
	if !ok {
		return apperr.NotFound("payment link not found")
	}
	if link.Status != from {
		return ErrNotActive
	}
	link.Status = to
	link.UpdatedAt = at.UTC()
	r.links[id] = link
	return nil
}

func (r *memoryRepository) RecordPayment(_ context.Context, id string, p Payment, closes bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[id]
	if !ok {
		return apperr.NotFound("payment link not found")
	}
	if link.Status != StatusActive {
		return ErrNotActive
	}
	paidAt := p.PaidAt.UTC()
	link.PaymentTxHash = p.TxHash
	link.PaidByUserID = p.PaidByUserID
	link.PaidAt = &paidAt
	link.Payments++
	link.UpdatedAt = paidAt
	if closes {
		link.Status = StatusPaid
	}
	r.links[id] = link
	return nil
}
