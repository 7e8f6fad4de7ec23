package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads the provider directory.
//
// Assumes:
//
//	provider_rates(provider_id PK, display_name, currency, rate_per_minute_minor,
//	               available, status, created_at, updated_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindProviderRate(ctx context.Context, providerID string) (ProviderRate, bool, error) {
	const q = `
SELECT provider_id, display_name, currency, rate_per_minute_minor, available, status, created_at, updated_at
FROM provider_rates
WHERE provider_id = $1 AND status = 'active'
`
	var p ProviderRate
	err := r.db.QueryRowContext(ctx, q, providerID).Scan(
		&p.ProviderID,
		&p.DisplayName,
		&p.Currency,
		&p.RatePerMinuteMinor,
		&p.Available,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProviderRate{}, false, nil
		}
		return ProviderRate{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) SetAvailability(ctx context.Context, providerID string, available bool) error {
	const q = `
UPDATE provider_rates SET available = $2, updated_at = $3
WHERE provider_id = $1
`
	res, err := r.db.ExecContext(ctx, q, providerID, available, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRateNotFound
	}
	return nil
}
