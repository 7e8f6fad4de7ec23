package pricing

import "time"

// Amounts are expressed in minor units (e.g., cents) using int64.

// ProviderRate is a provider's directory entry: the per-minute rate and
// whether the provider currently accepts calls.
type ProviderRate struct {
	ProviderID  string `json:"provider_id" db:"provider_id"`
	DisplayName string `json:"display_name" db:"display_name"`

	Currency string `json:"currency" db:"currency"`

	// RatePerMinuteMinor is the price per started minute.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	Available bool `json:"available" db:"available"`

	Status PricingStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type PricingStatus string

const (
	PricingStatusActive   PricingStatus = "active"
	PricingStatusInactive PricingStatus = "inactive"
)
