package installments

import (
	"fmt"
	"time"

	"github.com/manish5476/apex/internal/shared"
)

// PlanStatus enumerates plan lifecycle values.
type PlanStatus string

const (
	PlanActive    PlanStatus = "ACTIVE"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanCancelled PlanStatus = "CANCELLED"
)

// InstallmentStatus enumerates per-installment settlement states. The
// transition pending -> partial -> paid is monotonic; no regression.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPartial InstallmentStatus = "PARTIAL"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// Installment is one dated slice of a plan. Only PaidAmount and
// PaymentStatus mutate after creation; Overdue is a reporting marker.
type Installment struct {
	ID            int64             `json:"id"`
	PlanID        int64             `json:"planId"`
	Number        int               `json:"number"`
	DueDate       time.Time         `json:"dueDate"`
	TotalAmount   float64           `json:"totalAmount"`
	PaidAmount    float64           `json:"paidAmount"`
	PaymentStatus InstallmentStatus `json:"paymentStatus"`
	Overdue       bool              `json:"overdue"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Outstanding returns the unpaid remainder of the installment.
func (i Installment) Outstanding() float64 {
	if rest := i.TotalAmount - i.PaidAmount; rest > 0 {
		return rest
	}
	return 0
}

// Plan is an amortization schedule against one invoice.
type Plan struct {
	ID           int64         `json:"id"`
	OrgID        int64         `json:"-"`
	InvoiceID    int64         `json:"invoiceId"`
	CustomerID   int64         `json:"customerId"`
	Status       PlanStatus    `json:"status"`
	Installments []Installment `json:"installments"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// AllPaid reports whether every installment has settled.
func (p Plan) AllPaid() bool {
	for _, inst := range p.Installments {
		if inst.PaymentStatus != InstallmentPaid {
			return false
		}
	}
	return len(p.Installments) > 0
}

// CreatePlanInput groups the fields of a plan creation request.
type CreatePlanInput struct {
	OrgID     int64
	InvoiceID int64
	Count     int
	FirstDue  time.Time
}

var (
	// ErrInvalidCount indicates a non-positive installment count.
	ErrInvalidCount = fmt.Errorf("installments: count must be positive: %w", shared.ErrValidation)
	// ErrPlanExists indicates the invoice already has an active plan.
	ErrPlanExists = fmt.Errorf("installments: invoice already has an active plan: %w", shared.ErrValidation)
	// ErrNothingToSchedule indicates the invoice carries no open balance.
	ErrNothingToSchedule = fmt.Errorf("installments: invoice has no open balance: %w", shared.ErrAlreadyPaid)
)
