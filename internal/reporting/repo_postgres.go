package reporting

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepo reads and appends consultation_history.
// Assumes UNIQUE (call_id).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) AppendHistory(ctx context.Context, e HistoryEntry) error {
	const q = `
INSERT INTO consultation_history (
  id, call_id, requester_id, provider_id, duration_minutes, amount_minor, currency, call_date, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.CallID,
		e.RequesterID,
		e.ProviderID,
		e.DurationMinutes,
		e.AmountMinor,
		e.Currency,
		e.CallDate,
		e.CreatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateEntry
	}
	return nil
}

func (r *PostgresRepo) ListHistory(ctx context.Context, requesterID string, from, to time.Time) ([]HistoryEntry, error) {
	const q = `
SELECT id, call_id, requester_id, provider_id, duration_minutes, amount_minor, currency, call_date, created_at
FROM consultation_history
WHERE requester_id = $1
  AND ($2::timestamptz IS NULL OR call_date >= $2)
  AND ($3::timestamptz IS NULL OR call_date < $3)
ORDER BY call_date DESC
`
	rows, err := r.db.QueryContext(ctx, q, requesterID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0)
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(
			&h.ID,
			&h.CallID,
			&h.RequesterID,
			&h.ProviderID,
			&h.DurationMinutes,
			&h.AmountMinor,
			&h.Currency,
			&h.CallDate,
			&h.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
