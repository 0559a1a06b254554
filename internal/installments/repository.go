package installments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manish5476/apex/internal/platform/db"
	"github.com/manish5476/apex/internal/shared"
)

// TxInstallments exposes plan operations inside an open transaction. The
// payment allocation engine composes it into its own transactional scope.
type TxInstallments interface {
	ListActivePlansForUpdate(ctx context.Context, orgID, customerID int64) ([]Plan, error)
	GetActivePlanByInvoice(ctx context.Context, orgID, invoiceID int64) (Plan, bool, error)
	UpdateInstallment(ctx context.Context, inst Installment) error
	UpdatePlanStatus(ctx context.Context, planID int64, status PlanStatus) error
	InsertPlan(ctx context.Context, plan *Plan) error
}

// TxStore is the pgx-backed TxInstallments implementation.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// ListActivePlansForUpdate locks and loads the customer's active plans in
// discovery order; installments come back sorted by due date ascending.
func (s *TxStore) ListActivePlansForUpdate(ctx context.Context, orgID, customerID int64) ([]Plan, error) {
	rows, err := s.tx.Query(ctx, `
SELECT id, org_id, invoice_id, customer_id, status, created_at, updated_at
FROM installment_plans
WHERE org_id=$1 AND customer_id=$2 AND status='ACTIVE'
ORDER BY id ASC
FOR UPDATE`,
		orgID, customerID)
	if err != nil {
		return nil, err
	}
	plans, err := scanPlans(rows)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if err := s.loadInstallments(ctx, &plans[i]); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// GetActivePlanByInvoice loads the invoice's active plan when one exists.
func (s *TxStore) GetActivePlanByInvoice(ctx context.Context, orgID, invoiceID int64) (Plan, bool, error) {
	row := s.tx.QueryRow(ctx, `
SELECT id, org_id, invoice_id, customer_id, status, created_at, updated_at
FROM installment_plans
WHERE org_id=$1 AND invoice_id=$2 AND status='ACTIVE'
FOR UPDATE`,
		orgID, invoiceID)
	var p Plan
	err := row.Scan(&p.ID, &p.OrgID, &p.InvoiceID, &p.CustomerID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, false, nil
		}
		return Plan{}, false, err
	}
	if err := s.loadInstallments(ctx, &p); err != nil {
		return Plan{}, false, err
	}
	return p, true, nil
}

// UpdateInstallment persists paid amount and status for one installment.
func (s *TxStore) UpdateInstallment(ctx context.Context, inst Installment) error {
	_, err := s.tx.Exec(ctx, `
UPDATE installments SET paid_amount=$2, payment_status=$3, updated_at=NOW() WHERE id=$1`,
		inst.ID, inst.PaidAmount, inst.PaymentStatus)
	return err
}

// UpdatePlanStatus moves the plan lifecycle forward.
func (s *TxStore) UpdatePlanStatus(ctx context.Context, planID int64, status PlanStatus) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE installment_plans SET status=$2, updated_at=NOW() WHERE id=$1`,
		planID, status)
	return err
}

// InsertPlan persists the plan header and its installment rows.
func (s *TxStore) InsertPlan(ctx context.Context, plan *Plan) error {
	err := s.tx.QueryRow(ctx, `
INSERT INTO installment_plans (org_id, invoice_id, customer_id, status)
VALUES ($1,$2,$3,$4) RETURNING id, created_at, updated_at`,
		plan.OrgID, plan.InvoiceID, plan.CustomerID, plan.Status).
		Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range plan.Installments {
		inst := &plan.Installments[i]
		inst.PlanID = plan.ID
		err := s.tx.QueryRow(ctx, `
INSERT INTO installments (plan_id, seq, due_date, total_amount, paid_amount, payment_status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			plan.ID, inst.Number, inst.DueDate, inst.TotalAmount, inst.PaidAmount, inst.PaymentStatus).
			Scan(&inst.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *TxStore) loadInstallments(ctx context.Context, plan *Plan) error {
	rows, err := s.tx.Query(ctx, `
SELECT id, plan_id, seq, due_date, total_amount, paid_amount, payment_status, overdue, updated_at
FROM installments WHERE plan_id=$1 ORDER BY due_date ASC, seq ASC`,
		plan.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var inst Installment
		if err := rows.Scan(&inst.ID, &inst.PlanID, &inst.Number, &inst.DueDate, &inst.TotalAmount,
			&inst.PaidAmount, &inst.PaymentStatus, &inst.Overdue, &inst.UpdatedAt); err != nil {
			return err
		}
		plan.Installments = append(plan.Installments, inst)
	}
	return rows.Err()
}

func scanPlans(rows pgx.Rows) ([]Plan, error) {
	defer rows.Close()
	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.OrgID, &p.InvoiceID, &p.CustomerID, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// Repository persists installment entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxInstallments) error) error {
	if r == nil {
		return errors.New("installments repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// HasActivePlan is the pure decision gate: it runs outside any transaction
// and routes a direct payment to exactly one of the two payment workflows.
func (r *Repository) HasActivePlan(ctx context.Context, orgID, invoiceID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM installment_plans WHERE org_id=$1 AND invoice_id=$2 AND status='ACTIVE')`,
		orgID, invoiceID).Scan(&exists)
	return exists, err
}

// MarkOverdue flips the reporting marker on installments whose due date has
// passed without settlement. Payable amounts are unaffected.
func (r *Repository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
UPDATE installments SET overdue=TRUE, updated_at=NOW()
WHERE due_date < $1 AND payment_status IN ('PENDING','PARTIAL') AND overdue=FALSE`,
		asOf)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// GetPlan loads one plan with installments.
func (r *Repository) GetPlan(ctx context.Context, orgID, planID int64) (Plan, error) {
	var p Plan
	err := r.pool.QueryRow(ctx, `
SELECT id, org_id, invoice_id, customer_id, status, created_at, updated_at
FROM installment_plans WHERE org_id=$1 AND id=$2`,
		orgID, planID).
		Scan(&p.ID, &p.OrgID, &p.InvoiceID, &p.CustomerID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, fmt.Errorf("installments: plan %d: %w", planID, shared.ErrNotFound)
		}
		return Plan{}, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, plan_id, seq, due_date, total_amount, paid_amount, payment_status, overdue, updated_at
FROM installments WHERE plan_id=$1 ORDER BY due_date ASC, seq ASC`,
		p.ID)
	if err != nil {
		return Plan{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var inst Installment
		if err := rows.Scan(&inst.ID, &inst.PlanID, &inst.Number, &inst.DueDate, &inst.TotalAmount,
			&inst.PaidAmount, &inst.PaymentStatus, &inst.Overdue, &inst.UpdatedAt); err != nil {
			return Plan{}, err
		}
		p.Installments = append(p.Installments, inst)
	}
	return p, rows.Err()
}
