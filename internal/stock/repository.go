package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/platform/db"
	"github.com/manish5476/apex/internal/shared"
)

// TxStock exposes stock mutations inside an open transaction.
type TxStock interface {
	DecrementForSale(ctx context.Context, orgID, productID, branchID int64, qty float64) error
	Increment(ctx context.Context, orgID, productID, branchID int64, qty float64) error
	GetProduct(ctx context.Context, orgID, productID int64) (Product, error)
	GetLevel(ctx context.Context, orgID, productID, branchID int64) (Level, error)
	InsertAdjustment(ctx context.Context, in AdjustInput) (int64, error)
}

// TxRepository bundles stock and ledger operations sharing one transaction.
type TxRepository interface {
	TxStock
	Ledger() ledger.TxLedger
}

// TxStore is the pgx-backed TxStock implementation.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// DecrementForSale atomically decrements a branch quantity, conditioned on
// quantity >= qty. Returns the domain failure without touching inventory
// when the condition does not hold.
func (s *TxStore) DecrementForSale(ctx context.Context, orgID, productID, branchID int64, qty float64) error {
	cmd, err := s.tx.Exec(ctx, `
UPDATE product_stock SET quantity = quantity - $4, updated_at = NOW()
WHERE org_id=$1 AND product_id=$2 AND branch_id=$3 AND quantity >= $4`,
		orgID, productID, branchID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM product_stock WHERE org_id=$1 AND product_id=$2 AND branch_id=$3)`,
		orgID, productID, branchID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("stock: product %d branch %d: %w", productID, branchID, shared.ErrNotFound)
	}
	return fmt.Errorf("stock: product %d branch %d needs %.2f: %w", productID, branchID, qty, shared.ErrInsufficientStock)
}

// Increment adds quantity to a branch line, creating it when absent.
func (s *TxStore) Increment(ctx context.Context, orgID, productID, branchID int64, qty float64) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO product_stock (org_id, product_id, branch_id, quantity, reorder_level)
VALUES ($1,$2,$3,$4,0)
ON CONFLICT (org_id, product_id, branch_id)
DO UPDATE SET quantity = product_stock.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		orgID, productID, branchID, qty)
	return err
}

// GetProduct loads pricing attributes for valuation.
func (s *TxStore) GetProduct(ctx context.Context, orgID, productID int64) (Product, error) {
	var p Product
	err := s.tx.QueryRow(ctx,
		`SELECT id, org_id, name, selling_price, purchase_price FROM products WHERE org_id=$1 AND id=$2`,
		orgID, productID).Scan(&p.ID, &p.OrgID, &p.Name, &p.SellingPrice, &p.PurchasePrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("stock: product %d: %w", productID, shared.ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

// GetLevel loads one branch stock line.
func (s *TxStore) GetLevel(ctx context.Context, orgID, productID, branchID int64) (Level, error) {
	var l Level
	err := s.tx.QueryRow(ctx, `
SELECT product_id, branch_id, quantity, reorder_level, updated_at
FROM product_stock WHERE org_id=$1 AND product_id=$2 AND branch_id=$3`,
		orgID, productID, branchID).Scan(&l.ProductID, &l.BranchID, &l.Quantity, &l.ReorderLevel, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{}, fmt.Errorf("stock: product %d branch %d: %w", productID, branchID, shared.ErrNotFound)
		}
		return Level{}, err
	}
	return l, nil
}

// InsertAdjustment records the adjustment document used as the ledger ref.
func (s *TxStore) InsertAdjustment(ctx context.Context, in AdjustInput) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `
INSERT INTO stock_adjustments (org_id, product_id, branch_id, quantity, direction, reason)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		in.OrgID, in.ProductID, in.BranchID, in.Qty, in.Direction, in.Reason).Scan(&id)
	return id, err
}

type txRepository struct {
	*TxStore
	ledger *ledger.TxStore
}

func (t *txRepository) Ledger() ledger.TxLedger {
	return t.ledger
}

// Repository persists stock entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction that spans stock
// and ledger state.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: NewTxStore(tx), ledger: ledger.NewTxStore(tx)})
	})
}
