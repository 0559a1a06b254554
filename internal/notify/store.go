package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the pgx-backed notification inbox.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert persists one notification row.
func (s *Store) Insert(ctx context.Context, n *Notification) error {
	return s.pool.QueryRow(ctx, `
INSERT INTO notifications (org_id, kind, payload)
VALUES ($1,$2,$3) RETURNING id, created_at`,
		n.OrgID, n.Kind, n.Payload).
		Scan(&n.ID, &n.CreatedAt)
}

// ListUnread returns unread notifications for the organization, newest
// first.
func (s *Store) ListUnread(ctx context.Context, orgID int64, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, org_id, kind, payload, read_at, created_at
FROM notifications WHERE org_id=$1 AND read_at IS NULL
ORDER BY created_at DESC LIMIT $2`,
		orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OrgID, &n.Kind, &n.Payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps one notification as read.
func (s *Store) MarkRead(ctx context.Context, orgID, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read_at=NOW() WHERE org_id=$1 AND id=$2 AND read_at IS NULL`,
		orgID, id)
	return err
}
