package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	ErrDuplicateEntry = errors.New("reporting: history entry exists")
)

// Repository abstracts data access for reporting.
//
// Implementations must filter by requester on every read.
type Repository interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
	ListHistory(ctx context.Context, requesterID string, from, to time.Time) ([]HistoryEntry, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

// Append records a finished consultation. Appending the same call twice is a no-op.
func (s *Service) Append(ctx context.Context, e HistoryEntry) error {
	if e.CallID == "" || e.RequesterID == "" || e.ProviderID == "" {
		return ErrInvalidRequest
	}
	if e.DurationMinutes < 0 || e.AmountMinor < 0 {
		return ErrInvalidRequest
	}
	if s.repo == nil {
		return errors.New("reporting: repository not configured")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	err := s.repo.AppendHistory(ctx, e)
	if errors.Is(err, ErrDuplicateEntry) {
		return nil
	}
	return err
}

func (s *Service) History(ctx context.Context, req HistoryRequest) ([]HistoryEntry, error) {
	if req.RequesterID == "" || req.Limit < 0 || !validRange(req.Range) {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	rows, err := s.repo.ListHistory(ctx, req.RequesterID, req.Range.From, req.Range.To)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	return rows, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.RequesterID == "" || !validRange(req.Range) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListHistory(ctx, req.RequesterID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{RequesterID: req.RequesterID, Currency: req.Currency}
	providers := map[string]struct{}{}
	for _, h := range rows {
		// currency normalization: if request specified currency, filter; else populate from first row.
		if out.Currency == "" {
			out.Currency = h.Currency
		}
		if h.Currency != out.Currency {
			continue
		}
		out.Consultations++
		out.TotalMinutes += h.DurationMinutes
		out.TotalAmountMinor += h.AmountMinor
		providers[h.ProviderID] = struct{}{}
	}
	out.DistinctProviders = len(providers)
	if out.Consultations > 0 {
		out.AverageMinutes = out.TotalMinutes / out.Consultations
	}
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}

// validRange accepts an open range or one whose To is after From.
func validRange(r TimeRange) bool {
	if r.From.IsZero() || r.To.IsZero() {
		return true
	}
	return r.To.After(r.From)
}
