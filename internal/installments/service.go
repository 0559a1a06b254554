package installments

import (
	"context"
	"log/slog"
	"time"
)

// InvoiceInfo is the slice of invoice state the plan manager needs.
type InvoiceInfo struct {
	ID            int64
	CustomerID    int64
	BalanceAmount float64
}

// InvoicePort looks up the invoice a plan is scheduled against.
type InvoicePort interface {
	GetInvoiceInfo(ctx context.Context, orgID, invoiceID int64) (InvoiceInfo, error)
}

// RepositoryPort abstracts repository behaviour for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxInstallments) error) error
	HasActivePlan(ctx context.Context, orgID, invoiceID int64) (bool, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	GetPlan(ctx context.Context, orgID, planID int64) (Plan, error)
}

// Service owns per-invoice amortization schedules.
type Service struct {
	repo     RepositoryPort
	invoices InvoicePort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, invoices InvoicePort, logger *slog.Logger) *Service {
	return &Service{repo: repo, invoices: invoices, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePlan schedules the invoice's open balance across monthly
// installments. One active plan per invoice.
func (s *Service) CreatePlan(ctx context.Context, in CreatePlanInput) (Plan, error) {
	if in.Count <= 0 {
		return Plan{}, ErrInvalidCount
	}
	info, err := s.invoices.GetInvoiceInfo(ctx, in.OrgID, in.InvoiceID)
	if err != nil {
		return Plan{}, err
	}
	if info.BalanceAmount <= 0 {
		return Plan{}, ErrNothingToSchedule
	}
	firstDue := in.FirstDue
	if firstDue.IsZero() {
		firstDue = s.now().UTC().AddDate(0, 1, 0)
	}

	plan := Plan{
		OrgID:        in.OrgID,
		InvoiceID:    in.InvoiceID,
		CustomerID:   info.CustomerID,
		Status:       PlanActive,
		Installments: BuildSchedule(info.BalanceAmount, in.Count, firstDue),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxInstallments) error {
		_, exists, err := tx.GetActivePlanByInvoice(ctx, in.OrgID, in.InvoiceID)
		if err != nil {
			return err
		}
		if exists {
			return ErrPlanExists
		}
		return tx.InsertPlan(ctx, &plan)
	})
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// HasActivePlan is the side-effect-free routing check for direct payments.
func (s *Service) HasActivePlan(ctx context.Context, orgID, invoiceID int64) (bool, error) {
	return s.repo.HasActivePlan(ctx, orgID, invoiceID)
}

// MarkOverdueInstallments flags installments past due for reporting.
func (s *Service) MarkOverdueInstallments(ctx context.Context) (int64, error) {
	marked, err := s.repo.MarkOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if marked > 0 && s.logger != nil {
		s.logger.Info("installments marked overdue", slog.Int64("count", marked))
	}
	return marked, nil
}

// GetPlan loads one plan with its installments.
func (s *Service) GetPlan(ctx context.Context, orgID, planID int64) (Plan, error) {
	return s.repo.GetPlan(ctx, orgID, planID)
}
