package invoicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manish5476/apex/internal/customers"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/platform/db"
	"github.com/manish5476/apex/internal/stock"
)

// TxRepository exposes every operation the invoice workflow performs inside
// its single transaction. Stock, customer and ledger writes share the same
// pgx transaction so an abort rolls everything back together.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv *Invoice) error
	InsertSalesRecord(ctx context.Context, rec SalesRecord) error
	OpeningValue(ctx context.Context, orgID, productID int64) (float64, error)
	Stock() stock.TxStock
	Customers() customers.TxCustomers
	Ledger() ledger.TxLedger
}

type txRepository struct {
	tx        pgx.Tx
	stock     *stock.TxStore
	customers *customers.TxStore
	ledger    *ledger.TxStore
}

func (t *txRepository) Stock() stock.TxStock             { return t.stock }
func (t *txRepository) Customers() customers.TxCustomers { return t.customers }
func (t *txRepository) Ledger() ledger.TxLedger          { return t.ledger }

// InsertInvoice persists the invoice and its lines, assigning id and number.
func (t *txRepository) InsertInvoice(ctx context.Context, inv *Invoice) error {
	err := t.tx.QueryRow(ctx, `
INSERT INTO invoices (org_id, customer_id, branch_id, invoice_number, sub_total, total_tax, total_discount,
                      grand_total, paid_amount, balance_amount, status, payment_status, due_date, notes)
VALUES ($1,$2,$3,'',$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at, updated_at`,
		inv.OrgID, inv.CustomerID, inv.BranchID, inv.SubTotal, inv.TotalTax, inv.TotalDiscount,
		inv.GrandTotal, inv.PaidAmount, inv.BalanceAmount, inv.Status, inv.PaymentStatus, inv.DueDate, inv.Notes).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return err
	}
	inv.Number = fmt.Sprintf("INV-%06d", inv.ID)
	if _, err := t.tx.Exec(ctx, `UPDATE invoices SET invoice_number=$2 WHERE id=$1`, inv.ID, inv.Number); err != nil {
		return err
	}
	for i := range inv.Items {
		item := &inv.Items[i]
		item.InvoiceID = inv.ID
		err := t.tx.QueryRow(ctx, `
INSERT INTO invoice_items (invoice_id, product_id, quantity, price, tax, discount, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			inv.ID, item.ProductID, item.Quantity, item.Price, item.Tax, item.Discount, item.LineTotal).
			Scan(&item.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertSalesRecord writes the denormalized reporting row.
func (t *txRepository) InsertSalesRecord(ctx context.Context, rec SalesRecord) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO sales_records (org_id, invoice_id, customer_id, branch_id, amount, sold_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.OrgID, rec.InvoiceID, rec.CustomerID, rec.BranchID, rec.Amount, rec.SoldAt)
	return err
}

// OpeningValue returns the product's opening stock valuation.
func (t *txRepository) OpeningValue(ctx context.Context, orgID, productID int64) (float64, error) {
	var value float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(opening_qty * purchase_price, 0) FROM products WHERE org_id=$1 AND id=$2`,
		orgID, productID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

// Repository persists invoicing entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within one repeatable-read transaction spanning the
// invoice, stock, customer and ledger state.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("invoicing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			tx:        tx,
			stock:     stock.NewTxStore(tx),
			customers: customers.NewTxStore(tx),
			ledger:    ledger.NewTxStore(tx),
		})
	})
}

// GetInvoice loads one invoice with its lines.
func (r *Repository) GetInvoice(ctx context.Context, orgID, invoiceID int64) (Invoice, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `
SELECT id, org_id, customer_id, branch_id, invoice_number, sub_total, total_tax, total_discount,
       grand_total, paid_amount, balance_amount, status, payment_status, due_date, notes, created_at, updated_at
FROM invoices WHERE org_id=$1 AND id=$2`,
		orgID, invoiceID).
		Scan(&inv.ID, &inv.OrgID, &inv.CustomerID, &inv.BranchID, &inv.Number, &inv.SubTotal, &inv.TotalTax,
			&inv.TotalDiscount, &inv.GrandTotal, &inv.PaidAmount, &inv.BalanceAmount, &inv.Status,
			&inv.PaymentStatus, &inv.DueDate, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, invoice_id, product_id, quantity, price, tax, discount, line_total
FROM invoice_items WHERE invoice_id=$1 ORDER BY id`,
		invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.ProductID, &item.Quantity, &item.Price,
			&item.Tax, &item.Discount, &item.LineTotal); err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, item)
	}
	return inv, rows.Err()
}
