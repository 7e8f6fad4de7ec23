package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory record store for tests and local runs.
// It enforces the same conditional finalize as PostgresRepo.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record

	finalizeCalls int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (m *MemoryRepo) CreatePending(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.CallID]; ok {
		return ErrInvalidArgument
	}
	r.Status = StatusPending
	r.UpdatedAt = r.CreatedAt
	m.records[r.CallID] = r
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, callID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepo) MarkActive(ctx context.Context, callID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[callID]
	if !ok {
		return ErrNotFound
	}
	switch {
	case r.Status.Final():
		return ErrAlreadyFinalized
	case r.Status == StatusPending:
		r.Status = StatusActive
		r.StartedAt = &startedAt
		r.UpdatedAt = startedAt
		m.records[callID] = r
	}
	return nil
}

func (m *MemoryRepo) Finalize(ctx context.Context, f Finalization, now time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++

	r, ok := m.records[f.CallID]
	if !ok {
		return Record{}, ErrNotFound
	}
	if r.Status.Final() {
		return Record{}, ErrAlreadyFinalized
	}

	r.Status = f.Status
	if !f.StartedAt.IsZero() {
		started := f.StartedAt
		r.StartedAt = &started
	}
	ended := f.EndedAt
	r.EndedAt = &ended
	r.DurationMinutes = f.DurationMinutes
	r.AmountMinor = f.AmountMinor
	r.UpdatedAt = now
	m.records[f.CallID] = r
	return r, nil
}

func (m *MemoryRepo) FindActiveByRequester(ctx context.Context, requesterID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if r.RequesterID == requesterID && !r.Status.Final() {
			out = append(out, r)
		}
	}
	return out, nil
}

// FinalizeCalls reports how many Finalize attempts were made, successful or not.
func (m *MemoryRepo) FinalizeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizeCalls
}
