package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manish5476/apex/internal/installments"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/shared"
)

// RepositoryPort abstracts repository behaviour for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, orgID, paymentID int64) (Payment, error)
	List(ctx context.Context, orgID int64, filter ListFilter) ([]Payment, error)
	ListStaleUnallocated(ctx context.Context, olderThan time.Time, batch int) ([]Payment, error)
	IncrementFailedAttempts(ctx context.Context, orgID, paymentID int64, threshold int) (AllocationStatus, error)
	RetireManualReview(ctx context.Context, before time.Time) (int64, error)
}

// PlanGate answers "does this invoice have an active installment plan". It
// runs strictly outside any transaction: the answer routes the payment into
// exactly one of two atomic workflows, which cannot nest.
type PlanGate interface {
	HasActivePlan(ctx context.Context, orgID, invoiceID int64) (bool, error)
}

// ReviewThresholdDefault parks a payment for manual review after this many
// failed allocation attempts.
const ReviewThresholdDefault = 3

// Service is the payment allocation engine.
type Service struct {
	repo            RepositoryPort
	planGate        PlanGate
	logger          *slog.Logger
	reviewThreshold int
	now             func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, planGate PlanGate, logger *slog.Logger) *Service {
	return &Service{
		repo:            repo,
		planGate:        planGate,
		logger:          logger,
		reviewThreshold: ReviewThresholdDefault,
		now:             time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithReviewThreshold overrides the manual-review escalation threshold.
func (s *Service) WithReviewThreshold(n int) {
	if n > 0 {
		s.reviewThreshold = n
	}
}

// Create records an inbound payment and settles it immediately. A payment
// targeting a specific invoice takes the direct path; one addressed only to
// a customer runs the full allocation waterfall.
func (s *Service) Create(ctx context.Context, in CreateInput) (Payment, error) {
	if err := in.Validate(); err != nil {
		return Payment{}, err
	}
	if in.InvoiceID != nil {
		return s.addInvoicePayment(ctx, in)
	}

	p := newPayment(in)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertPayment(ctx, &p); err != nil {
			return err
		}
		return s.allocateInTx(ctx, tx, &p)
	})
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// addInvoicePayment is the direct path. The plan gate runs before the
// transaction opens; with an active plan the cash goes to the plan's
// installments, otherwise it settles the invoice itself. The two paths are
// mutually exclusive per invoice so the same cash is never booked twice.
func (s *Service) addInvoicePayment(ctx context.Context, in CreateInput) (Payment, error) {
	hasPlan, err := s.planGate.HasActivePlan(ctx, in.OrgID, *in.InvoiceID)
	if err != nil {
		return Payment{}, err
	}

	p := newPayment(in)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, in.OrgID, *in.InvoiceID)
		if err != nil {
			return err
		}
		p.CustomerID = inv.CustomerID
		if err := tx.InsertPayment(ctx, &p); err != nil {
			return err
		}
		if hasPlan {
			return s.payPlanInTx(ctx, tx, &p, inv)
		}
		return s.payInvoiceInTx(ctx, tx, &p, inv)
	})
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// Allocate runs the waterfall for one existing payment. Already-settled and
// parked payments are returned untouched, so re-running is a no-op.
func (s *Service) Allocate(ctx context.Context, orgID, paymentID int64) (Payment, error) {
	var out Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, orgID, paymentID)
		if err != nil {
			return err
		}
		if !p.Allocatable() {
			out = p
			return nil
		}
		if p.Type != TypeInflow {
			return fmt.Errorf("only inflow payments are allocatable: %w", shared.ErrValidation)
		}
		if err := s.allocateInTx(ctx, tx, &p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	return out, nil
}

// AllocateManual applies caller-specified allocation lines. The line total
// may not exceed what the payment still has to give.
func (s *Service) AllocateManual(ctx context.Context, orgID, paymentID int64, lines []ManualLine) (Payment, error) {
	if len(lines) == 0 {
		return Payment{}, fmt.Errorf("allocation lines required: %w", shared.ErrValidation)
	}
	var total float64
	for _, line := range lines {
		if line.Amount <= 0 {
			return Payment{}, fmt.Errorf("allocation amounts must be positive: %w", shared.ErrValidation)
		}
		total += line.Amount
	}
	total = ledger.Round2(total)

	var out Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, orgID, paymentID)
		if err != nil {
			return err
		}
		if p.AllocationStatus == FullyAllocated {
			return fmt.Errorf("payment %d already fully allocated: %w", p.ID, shared.ErrAlreadyPaid)
		}
		remaining := p.RemainingAmount
		if total > remaining+0.009 {
			return fmt.Errorf("allocation %0.2f exceeds remaining %0.2f: %w", total, remaining, shared.ErrOverpayment)
		}
		return s.applyManualInTx(ctx, tx, &p, lines, total)
	})
	if err != nil {
		return Payment{}, err
	}
	out, err = s.repo.Get(ctx, orgID, paymentID)
	if err != nil {
		return Payment{}, err
	}
	return out, nil
}

// NoteFailure bumps the failure counter outside the failed allocation's
// scope. Returns true once the payment has been parked for manual review.
func (s *Service) NoteFailure(ctx context.Context, orgID, paymentID int64) (bool, error) {
	status, err := s.repo.IncrementFailedAttempts(ctx, orgID, paymentID, s.reviewThreshold)
	if err != nil {
		return false, err
	}
	parked := status == RequiresManualReview
	if parked && s.logger != nil {
		s.logger.Warn("payment parked for manual review",
			slog.Int64("payment_id", paymentID), slog.Int64("org_id", orgID))
	}
	return parked, nil
}

// Get loads one payment.
func (s *Service) Get(ctx context.Context, orgID, paymentID int64) (Payment, error) {
	return s.repo.Get(ctx, orgID, paymentID)
}

// List returns filtered payments.
func (s *Service) List(ctx context.Context, orgID int64, filter ListFilter) ([]Payment, error) {
	return s.repo.List(ctx, orgID, filter)
}

// StaleUnallocated surfaces payments the sweep should catch up on.
func (s *Service) StaleUnallocated(ctx context.Context, olderThan time.Time, batch int) ([]Payment, error) {
	return s.repo.ListStaleUnallocated(ctx, olderThan, batch)
}

// RetireManualReview closes out manual-review payments older than the
// retention cutoff.
func (s *Service) RetireManualReview(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.RetireManualReview(ctx, before)
}

func newPayment(in CreateInput) Payment {
	txID := in.TransactionID
	if txID == "" {
		txID = uuid.NewString()
	}
	return Payment{
		OrgID:            in.OrgID,
		CustomerID:       in.CustomerID,
		InvoiceID:        in.InvoiceID,
		Amount:           ledger.Round2(in.Amount),
		Type:             TypeInflow,
		Status:           StatusCompleted,
		Method:           in.Method,
		ReferenceNumber:  in.ReferenceNumber,
		TransactionID:    txID,
		Notes:            in.Notes,
		AllocationStatus: Unallocated,
		RemainingAmount:  ledger.Round2(in.Amount),
	}
}

// allocateInTx runs the waterfall: advance credit first, then installments
// oldest due date first, then open invoices oldest due date first; whatever
// is left becomes new advance. By construction remaining always reaches
// zero, so the payment leaves fully allocated.
func (s *Service) allocateInTx(ctx context.Context, tx TxRepository, p *Payment) error {
	remaining := ledger.Round2(p.RemainingAmount)
	if remaining <= 0 {
		remaining = p.Amount
	}
	distributed := remaining
	now := s.now().UTC()

	cust, err := tx.Customers().GetForUpdate(ctx, p.OrgID, p.CustomerID)
	if err != nil {
		return err
	}
	advance := cust.AdvanceBalance

	var lines []Allocation
	if used := minAmount(advance, remaining); used > 0 {
		advance = ledger.Round2(advance - used)
		remaining = ledger.Round2(remaining - used)
		lines = append(lines, Allocation{Type: AllocAdvance, Amount: used, AllocatedAt: now})
	}

	var appliedToDebt float64
	if remaining > 0 {
		plans, err := tx.Installments().ListActivePlansForUpdate(ctx, p.OrgID, p.CustomerID)
		if err != nil {
			return err
		}
		for pi := range plans {
			if remaining <= 0 {
				break
			}
			plan := &plans[pi]
			planApplied, planLines, err := s.payInstallments(ctx, tx, plan, remaining, now)
			if err != nil {
				return err
			}
			if planApplied > 0 {
				inv, err := tx.GetInvoiceForUpdate(ctx, p.OrgID, plan.InvoiceID)
				if err != nil {
					return err
				}
				applyToInvoice(&inv, planApplied)
				if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
					return err
				}
				lines = append(lines, planLines...)
				remaining = ledger.Round2(remaining - planApplied)
				appliedToDebt += planApplied
			}
			if plan.AllPaid() {
				if err := tx.Installments().UpdatePlanStatus(ctx, plan.ID, installments.PlanCompleted); err != nil {
					return err
				}
			}
		}
	}

	if remaining > 0 {
		invoices, err := tx.ListOpenInvoicesForUpdate(ctx, p.OrgID, p.CustomerID)
		if err != nil {
			return err
		}
		for i := range invoices {
			if remaining <= 0 {
				break
			}
			consumed := applyToInvoice(&invoices[i], remaining)
			if consumed <= 0 {
				continue
			}
			if err := tx.UpdateInvoicePayment(ctx, invoices[i]); err != nil {
				return err
			}
			lines = append(lines, Allocation{Type: AllocInvoice, DocumentID: invoices[i].ID, Amount: consumed, AllocatedAt: now})
			remaining = ledger.Round2(remaining - consumed)
			appliedToDebt += consumed
		}
	}

	overflow := remaining
	if overflow > 0 {
		lines = append(lines, Allocation{Type: AllocAdvance, Amount: overflow, AllocatedAt: now})
	}
	if err := tx.Customers().SetAdvance(ctx, p.OrgID, cust.ID, ledger.Round2(advance+overflow)); err != nil {
		return err
	}
	if appliedToDebt > 0 {
		if err := tx.Customers().AddOutstanding(ctx, p.OrgID, cust.ID, -ledger.Round2(appliedToDebt)); err != nil {
			return err
		}
	}

	if err := tx.InsertAllocations(ctx, p.ID, lines); err != nil {
		return err
	}
	p.AllocatedTo = append(p.AllocatedTo, lines...)
	p.RemainingAmount = 0
	p.AllocationStatus = FullyAllocated
	if err := tx.UpdatePaymentAllocation(ctx, *p); err != nil {
		return err
	}
	return s.postPaymentLedger(ctx, tx, *p, distributed, overflow, now)
}

// payInstallments settles a plan's installments oldest first from remaining
// and returns what it consumed plus the resulting allocation lines.
func (s *Service) payInstallments(ctx context.Context, tx TxRepository, plan *installments.Plan, remaining float64, now time.Time) (float64, []Allocation, error) {
	var applied float64
	var lines []Allocation
	for i := range plan.Installments {
		left := ledger.Round2(remaining - applied)
		if left <= 0 {
			break
		}
		inst := &plan.Installments[i]
		consumed := installments.ApplyPayment(inst, left)
		if consumed <= 0 {
			continue
		}
		if err := tx.Installments().UpdateInstallment(ctx, *inst); err != nil {
			return 0, nil, err
		}
		lines = append(lines, Allocation{Type: AllocEMI, DocumentID: inst.ID, Amount: consumed, AllocatedAt: now})
		applied = ledger.Round2(applied + consumed)
	}
	return applied, lines, nil
}

// payPlanInTx is the direct path when the target invoice carries an active
// plan: the cash goes to the plan's installments, never the bare invoice.
func (s *Service) payPlanInTx(ctx context.Context, tx TxRepository, p *Payment, inv OpenInvoice) error {
	plan, ok, err := tx.Installments().GetActivePlanByInvoice(ctx, p.OrgID, inv.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Gate said yes but the plan closed in between; settle the invoice.
		return s.payInvoiceInTx(ctx, tx, p, inv)
	}
	now := s.now().UTC()
	applied, lines, err := s.payInstallments(ctx, tx, &plan, p.Amount, now)
	if err != nil {
		return err
	}
	if applied <= 0 {
		return fmt.Errorf("plan %d has no open installments: %w", plan.ID, shared.ErrAlreadyPaid)
	}
	if leftover := ledger.Round2(p.Amount - applied); leftover > 0 {
		return fmt.Errorf("payment %0.2f exceeds plan outstanding %0.2f: %w", p.Amount, applied, shared.ErrOverpayment)
	}
	applyToInvoice(&inv, applied)
	if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
		return err
	}
	if plan.AllPaid() {
		if err := tx.Installments().UpdatePlanStatus(ctx, plan.ID, installments.PlanCompleted); err != nil {
			return err
		}
	}
	return s.finishDirect(ctx, tx, p, inv.CustomerID, applied, lines, now)
}

// payInvoiceInTx is the plain direct path: the amount must fit inside the
// invoice's open balance.
func (s *Service) payInvoiceInTx(ctx context.Context, tx TxRepository, p *Payment, inv OpenInvoice) error {
	if inv.BalanceAmount <= 0 {
		return fmt.Errorf("invoice %d: %w", inv.ID, shared.ErrAlreadyPaid)
	}
	if p.Amount > inv.BalanceAmount+0.009 {
		return fmt.Errorf("payment %0.2f exceeds invoice balance %0.2f: %w", p.Amount, inv.BalanceAmount, shared.ErrOverpayment)
	}
	now := s.now().UTC()
	consumed := applyToInvoice(&inv, p.Amount)
	if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
		return err
	}
	lines := []Allocation{{Type: AllocInvoice, DocumentID: inv.ID, Amount: consumed, AllocatedAt: now}}
	return s.finishDirect(ctx, tx, p, inv.CustomerID, consumed, lines, now)
}

func (s *Service) finishDirect(ctx context.Context, tx TxRepository, p *Payment, customerID int64, applied float64, lines []Allocation, now time.Time) error {
	if err := tx.Customers().AddOutstanding(ctx, p.OrgID, customerID, -ledger.Round2(applied)); err != nil {
		return err
	}
	if err := tx.InsertAllocations(ctx, p.ID, lines); err != nil {
		return err
	}
	p.AllocatedTo = append(p.AllocatedTo, lines...)
	p.RemainingAmount = 0
	p.AllocationStatus = FullyAllocated
	if err := tx.UpdatePaymentAllocation(ctx, *p); err != nil {
		return err
	}
	return s.postPaymentLedger(ctx, tx, *p, applied, 0, now)
}

// applyManualInTx executes caller-specified lines. Unlike the waterfall it
// touches only the named documents and leaves the rest of the payment open.
func (s *Service) applyManualInTx(ctx context.Context, tx TxRepository, p *Payment, manual []ManualLine, total float64) error {
	now := s.now().UTC()
	cust, err := tx.Customers().GetForUpdate(ctx, p.OrgID, p.CustomerID)
	if err != nil {
		return err
	}

	var lines []Allocation
	var appliedToDebt, toAdvance float64
	for _, line := range manual {
		switch line.Type {
		case AllocAdvance:
			toAdvance = ledger.Round2(toAdvance + line.Amount)
			lines = append(lines, Allocation{Type: AllocAdvance, Amount: line.Amount, AllocatedAt: now})
		case AllocInvoice:
			inv, err := tx.GetInvoiceForUpdate(ctx, p.OrgID, line.DocumentID)
			if err != nil {
				return err
			}
			consumed := applyToInvoice(&inv, line.Amount)
			if consumed < line.Amount-0.009 {
				return fmt.Errorf("invoice %d can only absorb %0.2f of %0.2f: %w",
					inv.ID, consumed, line.Amount, shared.ErrOverpayment)
			}
			if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
				return err
			}
			lines = append(lines, Allocation{Type: AllocInvoice, DocumentID: inv.ID, Amount: consumed, AllocatedAt: now})
			appliedToDebt += consumed
		case AllocEMI:
			plan, ok, err := tx.Installments().GetActivePlanByInvoice(ctx, p.OrgID, line.DocumentID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no active plan for invoice %d: %w", line.DocumentID, shared.ErrNotFound)
			}
			applied, planLines, err := s.payInstallments(ctx, tx, &plan, line.Amount, now)
			if err != nil {
				return err
			}
			if applied < line.Amount-0.009 {
				return fmt.Errorf("plan %d can only absorb %0.2f of %0.2f: %w",
					plan.ID, applied, line.Amount, shared.ErrOverpayment)
			}
			inv, err := tx.GetInvoiceForUpdate(ctx, p.OrgID, plan.InvoiceID)
			if err != nil {
				return err
			}
			applyToInvoice(&inv, applied)
			if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
				return err
			}
			if plan.AllPaid() {
				if err := tx.Installments().UpdatePlanStatus(ctx, plan.ID, installments.PlanCompleted); err != nil {
					return err
				}
			}
			lines = append(lines, planLines...)
			appliedToDebt += applied
		default:
			return fmt.Errorf("unknown allocation type %q: %w", line.Type, shared.ErrValidation)
		}
	}

	if toAdvance > 0 {
		if err := tx.Customers().SetAdvance(ctx, p.OrgID, cust.ID, ledger.Round2(cust.AdvanceBalance+toAdvance)); err != nil {
			return err
		}
	}
	if appliedToDebt > 0 {
		if err := tx.Customers().AddOutstanding(ctx, p.OrgID, cust.ID, -ledger.Round2(appliedToDebt)); err != nil {
			return err
		}
	}
	if err := tx.InsertAllocations(ctx, p.ID, lines); err != nil {
		return err
	}
	p.AllocatedTo = append(p.AllocatedTo, lines...)
	p.RemainingAmount = ledger.Round2(p.RemainingAmount - total)
	if p.RemainingAmount <= 0 {
		p.RemainingAmount = 0
		p.AllocationStatus = FullyAllocated
	} else {
		p.AllocationStatus = PartiallyAllocated
	}
	if err := tx.UpdatePaymentAllocation(ctx, *p); err != nil {
		return err
	}
	return s.postPaymentLedger(ctx, tx, *p, total, toAdvance, now)
}

// postPaymentLedger records the cash movement: debit cash for what this run
// distributed, credit receivables for the settled share and customer
// advances for the overflow share.
func (s *Service) postPaymentLedger(ctx context.Context, tx TxRepository, p Payment, distributed, overflow float64, now time.Time) error {
	if distributed <= 0 {
		return nil
	}
	cash, err := getAccount(ctx, tx, p.OrgID, ledger.CodeCash)
	if err != nil {
		return err
	}
	entries := []ledger.Entry{{
		OrgID:       p.OrgID,
		AccountID:   cash.ID,
		Debit:       ledger.Round2(distributed),
		Date:        now,
		RefType:     ledger.RefPayment,
		RefID:       p.ID,
		CustomerID:  &p.CustomerID,
		PaymentID:   &p.ID,
		Description: fmt.Sprintf("Payment #%d received", p.ID),
	}}
	if settled := ledger.Round2(distributed - overflow); settled > 0 {
		receivable, err := getAccount(ctx, tx, p.OrgID, ledger.CodeAccountsReceivable)
		if err != nil {
			return err
		}
		entries = append(entries, ledger.Entry{
			OrgID:       p.OrgID,
			AccountID:   receivable.ID,
			Credit:      settled,
			Date:        now,
			RefType:     ledger.RefPayment,
			RefID:       p.ID,
			CustomerID:  &p.CustomerID,
			PaymentID:   &p.ID,
			Description: fmt.Sprintf("Payment #%d applied to receivables", p.ID),
		})
	}
	if overflow > 0 {
		advances, err := getAccount(ctx, tx, p.OrgID, ledger.CodeCustomerAdvances)
		if err != nil {
			return err
		}
		entries = append(entries, ledger.Entry{
			OrgID:       p.OrgID,
			AccountID:   advances.ID,
			Credit:      ledger.Round2(overflow),
			Date:        now,
			RefType:     ledger.RefPayment,
			RefID:       p.ID,
			CustomerID:  &p.CustomerID,
			PaymentID:   &p.ID,
			Description: fmt.Sprintf("Payment #%d overflow to advance", p.ID),
		})
	}
	return tx.Ledger().InsertEntries(ctx, entries)
}

func getAccount(ctx context.Context, tx TxRepository, orgID int64, code string) (ledger.Account, error) {
	name, typ := ledger.AccountDefaults(code)
	return tx.Ledger().GetOrCreateAccount(ctx, orgID, code, name, typ)
}

func minAmount(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
