package invoicing

import (
	"fmt"
	"time"

	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/shared"
)

// ErrInvoiceNotFound indicates a missing invoice.
var ErrInvoiceNotFound = fmt.Errorf("invoicing: invoice %w", shared.ErrNotFound)

// Status enumerates invoice lifecycle values.
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusSent    Status = "SENT"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
	StatusVoid    Status = "VOID"
)

// PaymentStatus enumerates settlement states.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
)

// Item is one invoice line. Tax and Discount are absolute amounts.
type Item struct {
	ID        int64
	InvoiceID int64
	ProductID int64
	Quantity  float64
	Price     float64
	Tax       float64
	Discount  float64
	LineTotal float64
}

// Invoice models the sales invoice. PaidAmount/BalanceAmount/PaymentStatus
// are mutated only by the payment allocation engine or the direct payment
// path, never by general updates.
type Invoice struct {
	ID            int64
	OrgID         int64
	CustomerID    int64
	BranchID      int64
	Number        string
	Items         []Item
	SubTotal      float64
	TotalTax      float64
	TotalDiscount float64
	GrandTotal    float64
	PaidAmount    float64
	BalanceAmount float64
	Status        Status
	PaymentStatus PaymentStatus
	DueDate       *time.Time
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SalesRecord is the denormalized read model created alongside an invoice.
type SalesRecord struct {
	ID         int64
	OrgID      int64
	InvoiceID  int64
	CustomerID int64
	BranchID   int64
	Amount     float64
	SoldAt     time.Time
}

// NewSaleEvent is emitted after commit for the notification collaborators.
type NewSaleEvent struct {
	OrganizationID int64   `json:"organizationId"`
	InvoiceNumber  string  `json:"invoiceNumber"`
	GrandTotal     float64 `json:"grandTotal"`
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID int64
	Quantity  float64
	Price     float64
	Tax       float64
	Discount  float64
}

// CreateInput groups the fields of an invoice creation request.
type CreateInput struct {
	OrgID      int64
	CustomerID int64
	BranchID   int64
	Items      []ItemInput
	PaidAmount float64
	Status     Status
	DueDate    *time.Time
	Notes      string
}

// Validate rejects malformed input before any transaction opens.
func (in CreateInput) Validate() error {
	if in.OrgID == 0 || in.CustomerID == 0 || in.BranchID == 0 {
		return fmt.Errorf("invoicing: organization, customer and branch required: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("invoicing: at least one item required: %w", shared.ErrValidation)
	}
	for idx, item := range in.Items {
		if item.ProductID == 0 {
			return fmt.Errorf("invoicing: item %d missing product: %w", idx, shared.ErrValidation)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("invoicing: item %d quantity must be positive: %w", idx, shared.ErrValidation)
		}
		if item.Price < 0 || item.Tax < 0 || item.Discount < 0 {
			return fmt.Errorf("invoicing: item %d negative amount: %w", idx, shared.ErrValidation)
		}
	}
	if in.PaidAmount < 0 {
		return fmt.Errorf("invoicing: paid amount cannot be negative: %w", shared.ErrValidation)
	}
	return nil
}

// buildInvoice computes totals from the lines. BalanceAmount is grand total
// minus paid amount by construction.
func buildInvoice(in CreateInput, now time.Time) (Invoice, error) {
	inv := Invoice{
		OrgID:      in.OrgID,
		CustomerID: in.CustomerID,
		BranchID:   in.BranchID,
		DueDate:    in.DueDate,
		Notes:      in.Notes,
		Status:     in.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if inv.Status == "" {
		inv.Status = StatusSent
	}
	for _, item := range in.Items {
		line := ledger.Round2(item.Quantity*item.Price - item.Discount + item.Tax)
		inv.Items = append(inv.Items, Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Tax:       item.Tax,
			Discount:  item.Discount,
			LineTotal: line,
		})
		inv.SubTotal += item.Quantity * item.Price
		inv.TotalTax += item.Tax
		inv.TotalDiscount += item.Discount
	}
	inv.SubTotal = ledger.Round2(inv.SubTotal)
	inv.TotalTax = ledger.Round2(inv.TotalTax)
	inv.TotalDiscount = ledger.Round2(inv.TotalDiscount)
	inv.GrandTotal = ledger.Round2(inv.SubTotal - inv.TotalDiscount + inv.TotalTax)
	if in.PaidAmount > inv.GrandTotal {
		return Invoice{}, fmt.Errorf("invoicing: paid amount exceeds grand total: %w", shared.ErrOverpayment)
	}
	inv.PaidAmount = ledger.Round2(in.PaidAmount)
	inv.BalanceAmount = ledger.Round2(inv.GrandTotal - inv.PaidAmount)
	switch {
	case inv.BalanceAmount <= 0:
		inv.PaymentStatus = PaymentPaid
	case inv.PaidAmount > 0:
		inv.PaymentStatus = PaymentPartial
	default:
		inv.PaymentStatus = PaymentUnpaid
	}
	return inv, nil
}
