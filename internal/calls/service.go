package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"teleconsult/internal/pricing"

	"github.com/google/uuid"
)

// RateSource resolves the provider directory entry used for the rate snapshot.
type RateSource interface {
	ProviderRate(ctx context.Context, providerID string) (pricing.ProviderRate, error)
}

// SessionTracker reports whether a call still has a live session, however
// stale its record looks.
type SessionTracker interface {
	Holds(callID string) bool
}

// Service owns the durable call record: initiation, activation stamp and the
// single finalize.
type Service struct {
	repo    Repository
	rates   RateSource
	limiter Limiter

	sessions SessionTracker

	maxOpen    int
	pendingTTL time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Options struct {
	// MaxActivePerRequester bounds pending+active records per requester.
	MaxActivePerRequester int
	// PendingTTL is how long an untouched pending record blocks its requester.
	PendingTTL time.Duration
}

func NewService(repo Repository, rates RateSource, limiter Limiter, opts Options) *Service {
	if opts.MaxActivePerRequester <= 0 {
		opts.MaxActivePerRequester = 1
	}
	return &Service{
		repo:       repo,
		rates:      rates,
		limiter:    limiter,
		maxOpen:    opts.MaxActivePerRequester,
		pendingTTL: opts.PendingTTL,
		clock:      time.Now,
	}
}

// TrackSessions lets stale-pending cleanup skip calls that are still live.
// Set it before serving traffic.
func (s *Service) TrackSessions(t SessionTracker) { s.sessions = t }

// Initiate creates a pending record for requesterID calling providerID.
func (s *Service) Initiate(ctx context.Context, requesterID, providerID string) (Record, error) {
	if requesterID == "" || providerID == "" || requesterID == providerID {
		return Record{}, ErrInvalidArgument
	}

	rate, err := s.rates.ProviderRate(ctx, providerID)
	if err != nil {
		if errors.Is(err, pricing.ErrRateNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, providerID)
		}
		return Record{}, err
	}
	if !rate.Available {
		return Record{}, ErrProviderUnavailable
	}

	now := s.clock().UTC()

	open, err := s.repo.FindActiveByRequester(ctx, requesterID)
	if err != nil {
		return Record{}, err
	}
	live := 0
	for _, r := range open {
		if s.stalePending(r, now) {
			// Nobody ever joined; free the requester.
			if err := s.cancelStale(ctx, r, now); err != nil {
				return Record{}, err
			}
			continue
		}
		live++
	}
	if live >= s.maxOpen {
		return Record{}, ErrActiveCallExists
	}

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, requesterID)
		if err != nil {
			return Record{}, fmt.Errorf("acquire active slot: %w", err)
		}
		if !ok {
			return Record{}, ErrActiveCallExists
		}
	}

	rec := Record{
		CallID:             uuid.NewString(),
		RequesterID:        requesterID,
		ProviderID:         providerID,
		RatePerMinuteMinor: rate.RatePerMinuteMinor,
		Currency:           rate.Currency,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreatePending(ctx, rec); err != nil {
		s.release(ctx, requesterID)
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) Get(ctx context.Context, callID string) (Record, error) {
	if callID == "" {
		return Record{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, callID)
}

// MarkActive stamps the authoritative start on the record.
func (s *Service) MarkActive(ctx context.Context, callID string, startedAt time.Time) error {
	return s.repo.MarkActive(ctx, callID, startedAt)
}

// Finalize performs the single terminal write and frees the requester's slot.
func (s *Service) Finalize(ctx context.Context, f Finalization) (Record, error) {
	if f.CallID == "" || !f.Status.Final() || f.EndedAt.IsZero() {
		return Record{}, ErrInvalidArgument
	}
	if f.DurationMinutes < 0 || f.AmountMinor < 0 {
		return Record{}, ErrInvalidArgument
	}

	rec, err := s.repo.Finalize(ctx, f, s.clock().UTC())
	if err != nil {
		return Record{}, err
	}
	s.release(ctx, rec.RequesterID)
	return rec, nil
}

// stalePending reports a pending record nobody is on. A live session keeps its
// record even when MarkActive never landed.
func (s *Service) stalePending(r Record, now time.Time) bool {
	if s.pendingTTL <= 0 || r.Status != StatusPending || now.Sub(r.CreatedAt) < s.pendingTTL {
		return false
	}
	return s.sessions == nil || !s.sessions.Holds(r.CallID)
}

func (s *Service) cancelStale(ctx context.Context, r Record, now time.Time) error {
	_, err := s.Finalize(ctx, Finalization{
		CallID:  r.CallID,
		Status:  StatusCancelled,
		EndedAt: now,
	})
	if err != nil && !errors.Is(err, ErrAlreadyFinalized) {
		return fmt.Errorf("cancel stale call %s: %w", r.CallID, err)
	}
	return nil
}

// release is best-effort; the slot TTL covers a failed release.
func (s *Service) release(ctx context.Context, requesterID string) {
	if s.limiter == nil {
		return
	}
	_ = s.limiter.Release(ctx, requesterID)
}
