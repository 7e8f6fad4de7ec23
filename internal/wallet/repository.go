package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - wallets (one row per owner, UNIQUE (owner_id))
// - wallet_ledger (immutable append-only, UNIQUE (wallet_id, idempotency_key))
// - wallet_balances (projection keyed by wallet_id)

func lockWalletByOwner(ctx context.Context, tx *sql.Tx, ownerID string) (Wallet, error) {
	// Lock the wallet row to serialize concurrent money operations per wallet.
	const q = `
SELECT id, owner_id, currency, status, created_at, updated_at
FROM wallets
WHERE owner_id = $1
FOR UPDATE
`
	var w Wallet
	if err := tx.QueryRowContext(ctx, q, ownerID).Scan(
		&w.ID,
		&w.OwnerID,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBalance(ctx context.Context, q queryRower, ownerID string) (Balance, error) {
	const query = `
SELECT w.owner_id, w.id, COALESCE(b.currency, w.currency), COALESCE(b.balance_minor, 0), COALESCE(b.updated_at, w.updated_at)
FROM wallets w
LEFT JOIN wallet_balances b ON b.wallet_id = w.id
WHERE w.owner_id = $1
`
	var b Balance
	if err := q.QueryRowContext(ctx, query, ownerID).Scan(
		&b.OwnerID,
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, walletID, key string) (WalletLedger, bool, error) {
	const q = `
SELECT id, owner_id, wallet_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE wallet_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e WalletLedger
	err := tx.QueryRowContext(ctx, q, walletID, key).Scan(
		&e.ID,
		&e.OwnerID,
		&e.WalletID,
		&e.Type,
		&e.AmountMinor,
		&e.Currency,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WalletLedger{}, false, nil
		}
		return WalletLedger{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e WalletLedger) error {
	const q = `
INSERT INTO wallet_ledger (
  id, owner_id, wallet_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.OwnerID,
		e.WalletID,
		e.Type,
		e.AmountMinor,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, w Wallet, deltaMinor int64, now time.Time) (Balance, error) {
	const q = `
INSERT INTO wallet_balances (wallet_id, currency, balance_minor, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (wallet_id)
DO UPDATE SET balance_minor = wallet_balances.balance_minor + EXCLUDED.balance_minor,
              updated_at = EXCLUDED.updated_at
RETURNING wallet_id, currency, balance_minor, updated_at
`
	b := Balance{OwnerID: w.OwnerID}
	if err := tx.QueryRowContext(ctx, q, w.ID, w.Currency, deltaMinor, now).Scan(
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}
