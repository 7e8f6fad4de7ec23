package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"teleconsult/pkg/utils"
)

// Repository is the durable record store.
//
// Finalize MUST be conditional: it succeeds at most once per call id and
// returns ErrAlreadyFinalized afterwards.
type Repository interface {
	CreatePending(ctx context.Context, r Record) error
	Get(ctx context.Context, callID string) (Record, error)
	MarkActive(ctx context.Context, callID string, startedAt time.Time) error
	Finalize(ctx context.Context, f Finalization, now time.Time) (Record, error)
	// FindActiveByRequester lists the requester's pending and active records.
	FindActiveByRequester(ctx context.Context, requesterID string) ([]Record, error)
}

// PostgresRepo assumes:
//
//	calls(call_id PK, requester_id, provider_id, rate_per_minute_minor, currency, status,
//	      started_at NULL, ended_at NULL, duration_minutes, amount_minor, created_at, updated_at)
//	INDEX (requester_id) WHERE status IN ('pending','active')
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `call_id, requester_id, provider_id, rate_per_minute_minor, currency, status,
       started_at, ended_at, duration_minutes, amount_minor, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	err := row.Scan(
		&r.CallID,
		&r.RequesterID,
		&r.ProviderID,
		&r.RatePerMinuteMinor,
		&r.Currency,
		&r.Status,
		&r.StartedAt,
		&r.EndedAt,
		&r.DurationMinutes,
		&r.AmountMinor,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func (p *PostgresRepo) CreatePending(ctx context.Context, r Record) error {
	const q = `
INSERT INTO calls (
  call_id, requester_id, provider_id, rate_per_minute_minor, currency, status,
  duration_minutes, amount_minor, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,'pending',0,0,$6,$6
)
`
	_, err := p.db.ExecContext(ctx, q,
		r.CallID,
		r.RequesterID,
		r.ProviderID,
		r.RatePerMinuteMinor,
		r.Currency,
		r.CreatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return fmt.Errorf("%w: call %s already exists", ErrInvalidArgument, r.CallID)
	}
	return err
}

func (p *PostgresRepo) Get(ctx context.Context, callID string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM calls WHERE call_id = $1`
	r, err := scanRecord(p.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (p *PostgresRepo) MarkActive(ctx context.Context, callID string, startedAt time.Time) error {
	const q = `
UPDATE calls SET status = 'active', started_at = $2, updated_at = $2
WHERE call_id = $1 AND status = 'pending'
`
	res, err := p.db.ExecContext(ctx, q, callID, startedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	cur, err := p.Get(ctx, callID)
	if err != nil {
		return err
	}
	if cur.Status.Final() {
		return ErrAlreadyFinalized
	}
	return nil
}

func (p *PostgresRepo) Finalize(ctx context.Context, f Finalization, now time.Time) (Record, error) {
	q := `
UPDATE calls
SET status = $2,
    started_at = COALESCE($3, started_at),
    ended_at = $4,
    duration_minutes = $5,
    amount_minor = $6,
    updated_at = $7
WHERE call_id = $1 AND status IN ('pending','active')
RETURNING ` + recordColumns

	var started *time.Time
	if !f.StartedAt.IsZero() {
		started = &f.StartedAt
	}

	r, err := scanRecord(p.db.QueryRowContext(ctx, q,
		f.CallID,
		f.Status,
		started,
		f.EndedAt,
		f.DurationMinutes,
		f.AmountMinor,
		now,
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}

	// No row updated: either unknown or already final.
	if _, err := p.Get(ctx, f.CallID); err != nil {
		return Record{}, err
	}
	return Record{}, ErrAlreadyFinalized
}

func (p *PostgresRepo) FindActiveByRequester(ctx context.Context, requesterID string) ([]Record, error) {
	q := `SELECT ` + recordColumns + `
FROM calls
WHERE requester_id = $1 AND status IN ('pending','active')
ORDER BY created_at DESC
`
	rows, err := p.db.QueryContext(ctx, q, requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
