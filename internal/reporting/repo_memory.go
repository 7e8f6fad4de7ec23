package reporting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory reporting repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	History []HistoryEntry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) AppendHistory(ctx context.Context, e HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.History {
		if h.CallID == e.CallID {
			return ErrDuplicateEntry
		}
	}
	r.History = append(r.History, e)
	return nil
}

func (r *MemoryRepo) ListHistory(ctx context.Context, requesterID string, from, to time.Time) ([]HistoryEntry, error) {
	if requesterID == "" {
		return nil, errors.New("requester_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HistoryEntry, 0)
	for _, h := range r.History {
		if h.RequesterID != requesterID {
			continue
		}
		if !from.IsZero() && h.CallDate.Before(from) {
			continue
		}
		if !to.IsZero() && !h.CallDate.Before(to) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallDate.After(out[j].CallDate) })
	return out, nil
}
