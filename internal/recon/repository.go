package recon

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists sweep bookkeeping and runs the set-based repairs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecomputeOutstanding overwrites each customer's cached outstanding balance
// with the sum of their open invoice balances wherever the cache has drifted
// beyond tolerance. Returns the number of corrected rows.
func (r *Repository) RecomputeOutstanding(ctx context.Context, tolerance float64) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
WITH actual AS (
    SELECT c.id, COALESCE(SUM(i.balance_amount), 0) AS total
    FROM customers c
    LEFT JOIN invoices i
      ON i.customer_id = c.id
     AND i.org_id = c.org_id
     AND i.balance_amount > 0
     AND i.status NOT IN ('VOID','DRAFT')
    GROUP BY c.id
)
UPDATE customers c
SET outstanding_balance = a.total, updated_at = NOW()
FROM actual a
WHERE a.id = c.id
  AND ABS(c.outstanding_balance - a.total) > $1`,
		tolerance)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// InsertRunLog records one executed sweep section.
func (r *Repository) InsertRunLog(ctx context.Context, log *RunLog) error {
	return r.pool.QueryRow(ctx, `
INSERT INTO recon_run_logs (section, started_at, ended_at, processed, failed, detail)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		log.Section, log.StartedAt, log.EndedAt, log.Processed, log.Failed, log.Detail).
		Scan(&log.ID)
}

// PurgeRunLogs deletes sweep records older than the cutoff.
func (r *Repository) PurgeRunLogs(ctx context.Context, before time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx,
		`DELETE FROM recon_run_logs WHERE ended_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// ListRunLogs returns the most recent sweep records, newest first.
func (r *Repository) ListRunLogs(ctx context.Context, limit int) ([]RunLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, section, started_at, ended_at, processed, failed, detail
FROM recon_run_logs ORDER BY started_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunLog
	for rows.Next() {
		var log RunLog
		if err := rows.Scan(&log.ID, &log.Section, &log.StartedAt, &log.EndedAt,
			&log.Processed, &log.Failed, &log.Detail); err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}
