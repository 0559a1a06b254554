package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manish5476/apex/internal/shared"
)

// TxCustomers exposes customer balance mutations inside an open transaction.
type TxCustomers interface {
	GetForUpdate(ctx context.Context, orgID, customerID int64) (Customer, error)
	AddOutstanding(ctx context.Context, orgID, customerID int64, delta float64) error
	SetAdvance(ctx context.Context, orgID, customerID int64, advance float64) error
}

// TxStore is the pgx-backed TxCustomers implementation.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetForUpdate locks and loads one customer row.
func (s *TxStore) GetForUpdate(ctx context.Context, orgID, customerID int64) (Customer, error) {
	var c Customer
	err := s.tx.QueryRow(ctx, `
SELECT id, org_id, name, outstanding_balance, advance_balance, created_at, updated_at
FROM customers WHERE org_id=$1 AND id=$2 FOR UPDATE`,
		orgID, customerID).
		Scan(&c.ID, &c.OrgID, &c.Name, &c.OutstandingBalance, &c.AdvanceBalance, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, fmt.Errorf("customers: %d: %w", customerID, shared.ErrNotFound)
		}
		return Customer{}, err
	}
	return c, nil
}

// AddOutstanding shifts the cached outstanding balance by delta.
func (s *TxStore) AddOutstanding(ctx context.Context, orgID, customerID int64, delta float64) error {
	cmd, err := s.tx.Exec(ctx,
		`UPDATE customers SET outstanding_balance = outstanding_balance + $3, updated_at = NOW() WHERE org_id=$1 AND id=$2`,
		orgID, customerID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("customers: %d: %w", customerID, shared.ErrNotFound)
	}
	return nil
}

// SetAdvance overwrites the cached advance balance.
func (s *TxStore) SetAdvance(ctx context.Context, orgID, customerID int64, advance float64) error {
	cmd, err := s.tx.Exec(ctx,
		`UPDATE customers SET advance_balance = $3, updated_at = NOW() WHERE org_id=$1 AND id=$2`,
		orgID, customerID, advance)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("customers: %d: %w", customerID, shared.ErrNotFound)
	}
	return nil
}

// Repository provides pool-level customer reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one customer.
func (r *Repository) Get(ctx context.Context, orgID, customerID int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `
SELECT id, org_id, name, outstanding_balance, advance_balance, created_at, updated_at
FROM customers WHERE org_id=$1 AND id=$2`,
		orgID, customerID).
		Scan(&c.ID, &c.OrgID, &c.Name, &c.OutstandingBalance, &c.AdvanceBalance, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, fmt.Errorf("customers: %d: %w", customerID, shared.ErrNotFound)
		}
		return Customer{}, err
	}
	return c, nil
}
