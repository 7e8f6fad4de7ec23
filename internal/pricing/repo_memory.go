package pricing

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory provider directory useful for tests and local runs.
//
// NOTE: This is not intended for production; use PostgresRepo.
type MemoryRepo struct {
	mu    sync.RWMutex
	Rates map[string]ProviderRate
}

func NewMemoryRepo(rates ...ProviderRate) *MemoryRepo {
	r := &MemoryRepo{Rates: map[string]ProviderRate{}}
	for _, p := range rates {
		r.Rates[p.ProviderID] = p
	}
	return r
}

func (r *MemoryRepo) FindProviderRate(ctx context.Context, providerID string) (ProviderRate, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.Rates[providerID]
	if !ok || p.Status != PricingStatusActive {
		return ProviderRate{}, false, nil
	}
	return p, true, nil
}

func (r *MemoryRepo) SetAvailability(ctx context.Context, providerID string, available bool) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Rates[providerID]
	if !ok {
		return ErrRateNotFound
	}
	p.Available = available
	r.Rates[providerID] = p
	return nil
}
