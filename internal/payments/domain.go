package payments

import (
	"fmt"
	"time"

	"github.com/manish5476/apex/internal/invoicing"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/shared"
)

// PaymentType distinguishes money coming in from money going out.
type PaymentType string

const (
	TypeInflow  PaymentType = "INFLOW"
	TypeOutflow PaymentType = "OUTFLOW"
)

// PaymentStatus tracks the settlement lifecycle of the payment event itself.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusFailed    PaymentStatus = "FAILED"
)

// AllocationStatus tracks how far the amount has been distributed.
type AllocationStatus string

const (
	Unallocated          AllocationStatus = "UNALLOCATED"
	PartiallyAllocated   AllocationStatus = "PARTIALLY_ALLOCATED"
	FullyAllocated       AllocationStatus = "FULLY_ALLOCATED"
	RequiresManualReview AllocationStatus = "REQUIRES_MANUAL_REVIEW"
)

// AllocationType names the bucket an allocation line went to.
type AllocationType string

const (
	AllocAdvance AllocationType = "advance"
	AllocInvoice AllocationType = "invoice"
	AllocEMI     AllocationType = "emi"
)

// Allocation is one line of the payment's distribution breakdown. DocumentID
// points at the invoice or installment; zero for advance lines.
type Allocation struct {
	ID          int64          `db:"id" json:"id"`
	PaymentID   int64          `db:"payment_id" json:"paymentId"`
	Type        AllocationType `db:"alloc_type" json:"type"`
	DocumentID  int64          `db:"document_id" json:"documentId"`
	Amount      float64        `db:"amount" json:"amount"`
	AllocatedAt time.Time      `db:"allocated_at" json:"allocatedAt"`
}

// Payment is one inbound or outbound money event. AllocatedTo grows
// monotonically until RemainingAmount hits zero or the payment is parked
// for manual review.
type Payment struct {
	ID                       int64            `db:"id" json:"id"`
	OrgID                    int64            `db:"org_id" json:"-"`
	CustomerID               int64            `db:"customer_id" json:"customerId"`
	InvoiceID                *int64           `db:"invoice_id" json:"invoiceId,omitempty"`
	Amount                   float64          `db:"amount" json:"amount"`
	Type                     PaymentType      `db:"pay_type" json:"type"`
	Status                   PaymentStatus    `db:"status" json:"status"`
	Method                   string           `db:"method" json:"method"`
	ReferenceNumber          string           `db:"reference_number" json:"referenceNumber,omitempty"`
	TransactionID            string           `db:"transaction_id" json:"transactionId,omitempty"`
	Notes                    string           `db:"notes" json:"notes,omitempty"`
	AllocationStatus         AllocationStatus `db:"allocation_status" json:"allocationStatus"`
	RemainingAmount          float64          `db:"remaining_amount" json:"remainingAmount"`
	FailedAllocationAttempts int              `db:"failed_allocation_attempts" json:"failedAllocationAttempts"`
	CreatedAt                time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt                time.Time        `db:"updated_at" json:"updatedAt"`
	AllocatedTo              []Allocation     `db:"-" json:"allocatedTo,omitempty"`
}

// Allocatable reports whether the engine may touch this payment.
func (p Payment) Allocatable() bool {
	return p.AllocationStatus == Unallocated || p.AllocationStatus == PartiallyAllocated
}

// OpenInvoice is the payment-side projection of an invoice: the fields the
// allocation engine reads and mutates.
type OpenInvoice struct {
	ID            int64
	OrgID         int64
	CustomerID    int64
	Number        string
	GrandTotal    float64
	PaidAmount    float64
	BalanceAmount float64
	DueDate       *time.Time
	Status        invoicing.Status
	PaymentStatus invoicing.PaymentStatus
}

// applyToInvoice settles up to amount against the invoice and returns how
// much was consumed. BalanceAmount never goes negative.
func applyToInvoice(inv *OpenInvoice, amount float64) float64 {
	if amount <= 0 || inv.BalanceAmount <= 0 {
		return 0
	}
	toAllocate := inv.BalanceAmount
	if amount < toAllocate {
		toAllocate = amount
	}
	inv.PaidAmount = ledger.Round2(inv.PaidAmount + toAllocate)
	inv.BalanceAmount = ledger.Round2(inv.GrandTotal - inv.PaidAmount)
	if inv.BalanceAmount <= 0 {
		inv.BalanceAmount = 0
		inv.PaymentStatus = invoicing.PaymentPaid
		inv.Status = invoicing.StatusPaid
	} else {
		inv.PaymentStatus = invoicing.PaymentPartial
	}
	return toAllocate
}

// CreateInput groups the fields of an inbound payment request. InvoiceID
// routes the payment through the direct path; without it the waterfall
// distributes across the customer's open obligations.
type CreateInput struct {
	OrgID           int64
	CustomerID      int64
	InvoiceID       *int64
	Amount          float64
	Method          string
	ReferenceNumber string
	TransactionID   string
	Notes           string
}

// Validate rejects malformed input before any transaction opens.
func (in CreateInput) Validate() error {
	if in.Amount <= 0 {
		return fmt.Errorf("amount must be positive: %w", shared.ErrValidation)
	}
	if in.CustomerID == 0 && in.InvoiceID == nil {
		return fmt.Errorf("customerId or invoiceId required: %w", shared.ErrValidation)
	}
	return nil
}

// ManualLine is one caller-specified allocation in the manual variant.
type ManualLine struct {
	Type       AllocationType
	DocumentID int64
	Amount     float64
}

// ListFilter narrows payment listings.
type ListFilter struct {
	CustomerID       int64
	AllocationStatus AllocationStatus
	Status           PaymentStatus
	Limit            int
	Offset           int
}
