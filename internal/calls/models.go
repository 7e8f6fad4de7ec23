package calls

import "time"

// Record is the durable record of one call.
//
// Money invariant: AmountMinor is written once, by Finalize, and never recomputed.
// The rate is snapshotted at initiation so later directory changes never reprice a call.
type Record struct {
	CallID      string `json:"call_id" db:"call_id"`
	RequesterID string `json:"requester_id" db:"requester_id"`
	ProviderID  string `json:"provider_id" db:"provider_id"`

	RatePerMinuteMinor int64  `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	Currency           string `json:"currency" db:"currency"`

	Status Status `json:"status" db:"status"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationMinutes int   `json:"duration" db:"duration_minutes"`
	AmountMinor     int64 `json:"amount" db:"amount_minor"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PartyFor returns the participant id holding role on this call.
func (r Record) PartyFor(role Role) string {
	switch role {
	case RoleRequester:
		return r.RequesterID
	case RoleProvider:
		return r.ProviderID
	default:
		return ""
	}
}

// RoleOf returns the role userID holds on this call, if any.
func (r Record) RoleOf(userID string) (Role, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == r.RequesterID:
		return RoleRequester, true
	case userID == r.ProviderID:
		return RoleProvider, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Final reports whether the record has been finalized.
func (s Status) Final() bool { return s == StatusCompleted || s == StatusCancelled }

// Role is a side of a two-party call.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

func (r Role) Valid() bool { return r == RoleRequester || r == RoleProvider }

// Counterpart returns the other side of the call.
func (r Role) Counterpart() Role {
	if r == RoleRequester {
		return RoleProvider
	}
	return RoleRequester
}

// Finalization is the single terminal write for a call.
type Finalization struct {
	CallID string
	Status Status

	// StartedAt is zero for calls that never became active.
	StartedAt time.Time
	EndedAt   time.Time

	DurationMinutes int
	AmountMinor     int64
}
