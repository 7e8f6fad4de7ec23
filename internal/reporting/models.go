package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// HistoryEntry is one consultation in a requester's history.
// Entries are appended once per completed call and never edited.
type HistoryEntry struct {
	ID          string `json:"id" db:"id"`
	CallID      string `json:"call_id" db:"call_id"`
	RequesterID string `json:"requester_id" db:"requester_id"`
	ProviderID  string `json:"provider_id" db:"provider_id"`

	DurationMinutes int    `json:"duration_minutes" db:"duration_minutes"`
	AmountMinor     int64  `json:"amount_minor" db:"amount_minor"`
	Currency        string `json:"currency" db:"currency"`

	// CallDate is the instant the call started.
	CallDate  time.Time `json:"call_date" db:"call_date"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HistoryRequest lists a requester's consultations, newest first.
// A zero Range means all time.
type HistoryRequest struct {
	RequesterID string    `json:"requester_id"`
	Range       TimeRange `json:"range"`
	Limit       int       `json:"limit,omitempty"`
}

// SpendSummaryRequest requests aggregated consultation spend for one requester.
type SpendSummaryRequest struct {
	RequesterID string    `json:"requester_id"`
	Range       TimeRange `json:"range"`
	Currency    string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	RequesterID string `json:"requester_id"`
	Currency    string `json:"currency"`

	Consultations    int   `json:"consultations"`
	TotalMinutes     int   `json:"total_minutes"`
	AverageMinutes   int   `json:"average_minutes"`
	TotalAmountMinor int64 `json:"total_amount_minor"`

	// DistinctProviders counts providers consulted in range.
	DistinctProviders int `json:"distinct_providers"`
}
