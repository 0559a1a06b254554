package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manish5476/apex/internal/customers"
	"github.com/manish5476/apex/internal/installments"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/platform/db"
	"github.com/manish5476/apex/internal/shared"
)

// TxRepository is the allocation engine's transactional scope. Payment,
// invoice, installment, customer and ledger writes all ride the same
// transaction so the waterfall commits or rolls back as one unit.
type TxRepository interface {
	GetPaymentForUpdate(ctx context.Context, orgID, paymentID int64) (Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePaymentAllocation(ctx context.Context, p Payment) error
	InsertAllocations(ctx context.Context, paymentID int64, lines []Allocation) error
	ListOpenInvoicesForUpdate(ctx context.Context, orgID, customerID int64) ([]OpenInvoice, error)
	GetInvoiceForUpdate(ctx context.Context, orgID, invoiceID int64) (OpenInvoice, error)
	UpdateInvoicePayment(ctx context.Context, inv OpenInvoice) error
	Installments() installments.TxInstallments
	Customers() customers.TxCustomers
	Ledger() ledger.TxLedger
}

type txRepository struct {
	tx           pgx.Tx
	installments *installments.TxStore
	customers    *customers.TxStore
	ledger       *ledger.TxStore
}

func newTxRepository(tx pgx.Tx) *txRepository {
	return &txRepository{
		tx:           tx,
		installments: installments.NewTxStore(tx),
		customers:    customers.NewTxStore(tx),
		ledger:       ledger.NewTxStore(tx),
	}
}

func (r *txRepository) Installments() installments.TxInstallments { return r.installments }
func (r *txRepository) Customers() customers.TxCustomers          { return r.customers }
func (r *txRepository) Ledger() ledger.TxLedger                   { return r.ledger }

// GetPaymentForUpdate locks one payment row and loads its allocation lines.
func (r *txRepository) GetPaymentForUpdate(ctx context.Context, orgID, paymentID int64) (Payment, error) {
	row := r.tx.QueryRow(ctx, `
SELECT id, org_id, customer_id, invoice_id, amount, pay_type, status, method,
       COALESCE(reference_number,''), COALESCE(transaction_id,''), COALESCE(notes,''),
       allocation_status, remaining_amount, failed_allocation_attempts, created_at, updated_at
FROM payments WHERE org_id=$1 AND id=$2 FOR UPDATE`,
		orgID, paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, fmt.Errorf("payments: %d: %w", paymentID, shared.ErrNotFound)
		}
		return Payment{}, err
	}
	rows, err := r.tx.Query(ctx, `
SELECT id, payment_id, alloc_type, document_id, amount, allocated_at
FROM payment_allocations WHERE payment_id=$1 ORDER BY id ASC`,
		p.ID)
	if err != nil {
		return Payment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.Type, &a.DocumentID, &a.Amount, &a.AllocatedAt); err != nil {
			return Payment{}, err
		}
		p.AllocatedTo = append(p.AllocatedTo, a)
	}
	return p, rows.Err()
}

// InsertPayment persists the payment event.
func (r *txRepository) InsertPayment(ctx context.Context, p *Payment) error {
	return r.tx.QueryRow(ctx, `
INSERT INTO payments (org_id, customer_id, invoice_id, amount, pay_type, status, method,
                      reference_number, transaction_id, notes, allocation_status,
                      remaining_amount, failed_allocation_attempts)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at, updated_at`,
		p.OrgID, p.CustomerID, p.InvoiceID, p.Amount, p.Type, p.Status, p.Method,
		p.ReferenceNumber, p.TransactionID, p.Notes, p.AllocationStatus,
		p.RemainingAmount, p.FailedAllocationAttempts).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdatePaymentAllocation persists the allocation outcome on the payment.
func (r *txRepository) UpdatePaymentAllocation(ctx context.Context, p Payment) error {
	_, err := r.tx.Exec(ctx, `
UPDATE payments SET allocation_status=$2, remaining_amount=$3,
                    failed_allocation_attempts=$4, updated_at=NOW()
WHERE id=$1`,
		p.ID, p.AllocationStatus, p.RemainingAmount, p.FailedAllocationAttempts)
	return err
}

// InsertAllocations appends allocation lines. Lines are append-only.
func (r *txRepository) InsertAllocations(ctx context.Context, paymentID int64, lines []Allocation) error {
	for i := range lines {
		line := &lines[i]
		err := r.tx.QueryRow(ctx, `
INSERT INTO payment_allocations (payment_id, alloc_type, document_id, amount, allocated_at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			paymentID, line.Type, line.DocumentID, line.Amount, line.AllocatedAt).
			Scan(&line.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListOpenInvoicesForUpdate locks the customer's open invoices that are not
// covered by an active installment plan, oldest due date first.
func (r *txRepository) ListOpenInvoicesForUpdate(ctx context.Context, orgID, customerID int64) ([]OpenInvoice, error) {
	rows, err := r.tx.Query(ctx, `
SELECT i.id, i.org_id, i.customer_id, COALESCE(i.invoice_number,''), i.grand_total,
       i.paid_amount, i.balance_amount, i.due_date, i.status, i.payment_status
FROM invoices i
WHERE i.org_id=$1 AND i.customer_id=$2 AND i.balance_amount > 0
  AND i.status NOT IN ('VOID','DRAFT')
  AND NOT EXISTS (
      SELECT 1 FROM installment_plans p
      WHERE p.invoice_id = i.id AND p.status = 'ACTIVE')
ORDER BY i.due_date ASC NULLS LAST, i.id ASC
FOR UPDATE OF i`,
		orgID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpenInvoice
	for rows.Next() {
		var inv OpenInvoice
		if err := rows.Scan(&inv.ID, &inv.OrgID, &inv.CustomerID, &inv.Number, &inv.GrandTotal,
			&inv.PaidAmount, &inv.BalanceAmount, &inv.DueDate, &inv.Status, &inv.PaymentStatus); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// GetInvoiceForUpdate locks one invoice regardless of plan coverage. The
// engine uses it to roll installment allocations up into the parent invoice.
func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, orgID, invoiceID int64) (OpenInvoice, error) {
	var inv OpenInvoice
	err := r.tx.QueryRow(ctx, `
SELECT id, org_id, customer_id, COALESCE(invoice_number,''), grand_total,
       paid_amount, balance_amount, due_date, status, payment_status
FROM invoices WHERE org_id=$1 AND id=$2 FOR UPDATE`,
		orgID, invoiceID).
		Scan(&inv.ID, &inv.OrgID, &inv.CustomerID, &inv.Number, &inv.GrandTotal,
			&inv.PaidAmount, &inv.BalanceAmount, &inv.DueDate, &inv.Status, &inv.PaymentStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OpenInvoice{}, fmt.Errorf("payments: invoice %d: %w", invoiceID, shared.ErrNotFound)
		}
		return OpenInvoice{}, err
	}
	return inv, nil
}

// UpdateInvoicePayment persists settlement fields on the invoice.
func (r *txRepository) UpdateInvoicePayment(ctx context.Context, inv OpenInvoice) error {
	_, err := r.tx.Exec(ctx, `
UPDATE invoices SET paid_amount=$2, balance_amount=$3, status=$4, payment_status=$5, updated_at=NOW()
WHERE id=$1`,
		inv.ID, inv.PaidAmount, inv.BalanceAmount, inv.Status, inv.PaymentStatus)
	return err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrgID, &p.CustomerID, &p.InvoiceID, &p.Amount, &p.Type, &p.Status,
		&p.Method, &p.ReferenceNumber, &p.TransactionID, &p.Notes,
		&p.AllocationStatus, &p.RemainingAmount, &p.FailedAllocationAttempts, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository persists payment entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("payments repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

// Get loads one payment with its allocation lines.
func (r *Repository) Get(ctx context.Context, orgID, paymentID int64) (Payment, error) {
	var p Payment
	err := pgxscan.Get(ctx, r.pool, &p, `
SELECT id, org_id, customer_id, invoice_id, amount, pay_type, status, method,
       COALESCE(reference_number,'') AS reference_number,
       COALESCE(transaction_id,'') AS transaction_id,
       COALESCE(notes,'') AS notes,
       allocation_status, remaining_amount, failed_allocation_attempts, created_at, updated_at
FROM payments WHERE org_id=$1 AND id=$2`,
		orgID, paymentID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Payment{}, fmt.Errorf("payments: %d: %w", paymentID, shared.ErrNotFound)
		}
		return Payment{}, err
	}
	if err := pgxscan.Select(ctx, r.pool, &p.AllocatedTo, `
SELECT id, payment_id, alloc_type, document_id, amount, allocated_at
FROM payment_allocations WHERE payment_id=$1 ORDER BY id ASC`,
		p.ID); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// List returns payments matching the filter, newest first.
func (r *Repository) List(ctx context.Context, orgID int64, filter ListFilter) ([]Payment, error) {
	q := psql.Select(
		"id", "org_id", "customer_id", "invoice_id", "amount", "pay_type", "status", "method",
		"COALESCE(reference_number,'') AS reference_number",
		"COALESCE(transaction_id,'') AS transaction_id",
		"COALESCE(notes,'') AS notes",
		"allocation_status", "remaining_amount", "failed_allocation_attempts",
		"created_at", "updated_at").
		From("payments").
		Where(sq.Eq{"org_id": orgID}).
		OrderBy("created_at DESC", "id DESC")
	if filter.CustomerID != 0 {
		q = q.Where(sq.Eq{"customer_id": filter.CustomerID})
	}
	if filter.AllocationStatus != "" {
		q = q.Where(sq.Eq{"allocation_status": filter.AllocationStatus})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q = q.Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var out []Payment
	if err := pgxscan.Select(ctx, r.pool, &out, sql, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaleUnallocated returns completed inflow payments still awaiting
// allocation that are older than the staleness cutoff, oldest first.
func (r *Repository) ListStaleUnallocated(ctx context.Context, olderThan time.Time, batch int) ([]Payment, error) {
	if batch <= 0 {
		batch = 50
	}
	var out []Payment
	err := pgxscan.Select(ctx, r.pool, &out, `
SELECT id, org_id, customer_id, invoice_id, amount, pay_type, status, method,
       COALESCE(reference_number,'') AS reference_number,
       COALESCE(transaction_id,'') AS transaction_id,
       COALESCE(notes,'') AS notes,
       allocation_status, remaining_amount, failed_allocation_attempts, created_at, updated_at
FROM payments
WHERE pay_type='INFLOW' AND status='COMPLETED'
  AND allocation_status IN ('UNALLOCATED','PARTIALLY_ALLOCATED')
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2`,
		olderThan, batch)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementFailedAttempts bumps the failure counter in its own transaction
// and parks the payment for manual review once the threshold is reached.
// It must run outside the failed allocation's scope or the bump rolls back
// with it.
func (r *Repository) IncrementFailedAttempts(ctx context.Context, orgID, paymentID int64, threshold int) (AllocationStatus, error) {
	var status AllocationStatus
	err := r.pool.QueryRow(ctx, `
UPDATE payments
SET failed_allocation_attempts = failed_allocation_attempts + 1,
    allocation_status = CASE
        WHEN failed_allocation_attempts + 1 >= $3 THEN 'REQUIRES_MANUAL_REVIEW'
        ELSE allocation_status END,
    updated_at = NOW()
WHERE org_id=$1 AND id=$2
RETURNING allocation_status`,
		orgID, paymentID, threshold).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("payments: %d: %w", paymentID, shared.ErrNotFound)
		}
		return "", err
	}
	return status, nil
}

// RetireManualReview closes out manual-review payments untouched past the
// retention window so they stop surfacing in operator queues.
func (r *Repository) RetireManualReview(ctx context.Context, before time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
UPDATE payments SET review_closed_at = NOW()
WHERE allocation_status='REQUIRES_MANUAL_REVIEW' AND review_closed_at IS NULL AND updated_at < $1`,
		before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
