package httpapi

import (
	"context"
	"time"

	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/coordinator"
	"teleconsult/internal/pricing"
	"teleconsult/internal/reporting"
	"teleconsult/internal/wallet"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth *auth.Manager
	// AllowLogin enables token issuance without credentials (non-production only).
	AllowLogin bool

	Calls     CallService
	Coord     CallCoordinator
	Providers ProviderDirectory
	History   HistoryService
	Wallet    WalletService
	Audit     AdminAuditor

	// EndWait bounds how long an end request waits for a concurrent termination to commit.
	EndWait time.Duration
}

type CallService interface {
	Initiate(ctx context.Context, requesterID, providerID string) (calls.Record, error)
	Get(ctx context.Context, callID string) (calls.Record, error)
}

type CallCoordinator interface {
	TryTerminate(ctx context.Context, callID string, trig coordinator.Trigger) (coordinator.Result, error)
	Await(ctx context.Context, callID string) (coordinator.Outcome, error)
	Unsettled() []coordinator.Outcome
}

type ProviderDirectory interface {
	ProviderRate(ctx context.Context, providerID string) (pricing.ProviderRate, error)
	SetAvailability(ctx context.Context, providerID string, available bool) error
}

type HistoryService interface {
	History(ctx context.Context, req reporting.HistoryRequest) ([]reporting.HistoryEntry, error)
	SpendSummary(ctx context.Context, req reporting.SpendSummaryRequest) (reporting.SpendSummary, error)
}

type WalletService interface {
	GetBalance(ctx context.Context, ownerID string) (wallet.Balance, error)
	Credit(ctx context.Context, ownerID string, req wallet.CreditRequest) (wallet.WalletLedger, wallet.Balance, error)
}

type AdminAuditor interface {
	LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, walletOwnerID, metadata string) error
}
