package pricing

import (
	"context"
	"errors"
)

// Service resolves provider rates from the directory.
//
// Contract:
// - Rates are snapshotted onto the call record at initiation; settlement never re-reads them.
// - Pure repository lookups, no billing side effects.
type Service struct {
	repo RateRepository
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo}
}

var (
	ErrRateNotFound      = errors.New("pricing: provider rate not found")
	ErrInvalidPricingReq = errors.New("pricing: invalid request")
)

// RateRepository abstracts the provider directory.
type RateRepository interface {
	FindProviderRate(ctx context.Context, providerID string) (ProviderRate, bool, error)
	SetAvailability(ctx context.Context, providerID string, available bool) error
}

// ProviderRate returns the active directory entry for a provider.
func (s *Service) ProviderRate(ctx context.Context, providerID string) (ProviderRate, error) {
	if providerID == "" {
		return ProviderRate{}, ErrInvalidPricingReq
	}
	p, ok, err := s.repo.FindProviderRate(ctx, providerID)
	if err != nil {
		return ProviderRate{}, err
	}
	if !ok {
		return ProviderRate{}, ErrRateNotFound
	}
	if p.RatePerMinuteMinor < 0 || p.Currency == "" {
		return ProviderRate{}, ErrInvalidPricingReq
	}
	return p, nil
}

// SetAvailability toggles whether a provider accepts new calls.
func (s *Service) SetAvailability(ctx context.Context, providerID string, available bool) error {
	if providerID == "" {
		return ErrInvalidPricingReq
	}
	return s.repo.SetAvailability(ctx, providerID, available)
}
