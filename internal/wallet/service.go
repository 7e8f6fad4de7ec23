package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"teleconsult/pkg/utils"

	"github.com/google/uuid"
)

// Service provides wallet operations.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations must be executed in a DB transaction
//
// Balance strategy:
//   - Balance is stored in a projection table (wallet_balances) updated atomically
//     alongside ledger inserts.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

type DebitRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`

	// AllowNegative posts the debit even when it overdraws the wallet.
	// Used for charges of service already rendered.
	AllowNegative bool `json:"-"`
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrWalletDisabled    = errors.New("wallet disabled")
)

func (s *Service) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	if ownerID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, ownerID)
}

func (s *Service) Credit(ctx context.Context, ownerID string, req CreditRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}
	return s.post(ctx, ownerID, posting{
		typ:            LedgerEntryTypeCredit,
		amountMinor:    req.AmountMinor,
		currency:       req.Currency,
		externalRef:    req.ExternalRef,
		idempotencyKey: req.IdempotencyKey,
		metadata:       req.Metadata,
	})
}

func (s *Service) Debit(ctx context.Context, ownerID string, req DebitRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}
	return s.post(ctx, ownerID, posting{
		typ:            LedgerEntryTypeDebit,
		amountMinor:    -req.AmountMinor,
		currency:       req.Currency,
		externalRef:    req.ExternalRef,
		idempotencyKey: req.IdempotencyKey,
		metadata:       req.Metadata,
		allowNegative:  req.AllowNegative,
	})
}

type posting struct {
	typ            LedgerEntryType
	amountMinor    int64 // signed
	currency       string
	externalRef    string
	idempotencyKey string
	metadata       string
	allowNegative  bool
}

func (s *Service) post(ctx context.Context, ownerID string, p posting) (WalletLedger, Balance, error) {
	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger WalletLedger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if w.Currency != p.currency {
			return ErrInvalidArgument
		}

		// Idempotency: if a ledger entry already exists for this wallet+key, return it and the balance.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, w.ID, p.idempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalance(ctx, tx, ownerID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		if w.Status == WalletStatusDisabled {
			return ErrWalletDisabled
		}
		if p.amountMinor < 0 && !p.allowNegative {
			b, err := getBalance(ctx, tx, ownerID)
			if err != nil {
				return err
			}
			if b.BalanceMinor+p.amountMinor < 0 {
				return ErrInsufficientFunds
			}
		}

		entry := WalletLedger{
			ID:             ledgerID,
			OwnerID:        ownerID,
			WalletID:       w.ID,
			Type:           p.typ,
			AmountMinor:    p.amountMinor,
			Currency:       p.currency,
			ExternalRef:    p.externalRef,
			IdempotencyKey: p.idempotencyKey,
			Metadata:       p.metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		// Projection update.
		b, err := applyBalanceDelta(ctx, tx, w, p.amountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

func validateMoneyReq(ownerID string, amountMinor int64, currency, idempotencyKey string) error {
	if ownerID == "" {
		return ErrInvalidArgument
	}
	if currency == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
