package wallet

import "time"

// Wallet is the prepaid balance of one requester.
// Invariant: the balance is derived from immutable ledger entries.
// No code should ever mutate a balance without writing a corresponding ledger entry.
type Wallet struct {
	ID       string `json:"id" db:"id"`
	OwnerID  string `json:"owner_id" db:"owner_id"`
	Currency string `json:"currency" db:"currency"`

	Status WalletStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

// WalletLedger is an immutable append-only entry.
// Each row represents a credit/debit posted to the wallet.
type WalletLedger struct {
	ID       string `json:"id" db:"id"`
	OwnerID  string `json:"owner_id" db:"owner_id"`
	WalletID string `json:"wallet_id" db:"wallet_id"`

	Type LedgerEntryType `json:"type" db:"type"`

	// AmountMinor is the signed amount in minor units (e.g., cents).
	// Credits are positive, debits are negative.
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// ExternalRef is optional: call_id, top-up reference, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit" // top-up, refund
	LedgerEntryTypeDebit  LedgerEntryType = "debit"  // consultation charge
)

type Balance struct {
	OwnerID      string    `json:"owner_id"`
	WalletID     string    `json:"wallet_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}
