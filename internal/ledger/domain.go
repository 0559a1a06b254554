package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/manish5476/apex/internal/shared"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// ReferenceType enumerates the closed set of source document kinds an
// entry may point at.
type ReferenceType string

const (
	RefInvoice    ReferenceType = "INVOICE"
	RefCreditNote ReferenceType = "CREDIT_NOTE"
	RefJournal    ReferenceType = "JOURNAL"
	RefPayment    ReferenceType = "PAYMENT"
	RefAdjustment ReferenceType = "ADJUSTMENT"
)

// Well-known account codes created on demand. The chart is small and fixed;
// accounts are never deleted.
const (
	CodeAccountsReceivable = "1200"
	CodeInventoryAsset     = "1400"
	CodeTaxPayable         = "2200"
	CodeCustomerAdvances   = "2300"
	CodeOpeningBalances    = "3000"
	CodeSales              = "4000"
	CodeStockGain          = "4900"
	CodeCOGS               = "5000"
	CodeStockShrinkage     = "5900"
	CodeCash               = "1000"
)

// AccountDefaults returns the canonical name and type for a well-known code.
func AccountDefaults(code string) (string, AccountType) {
	switch code {
	case CodeAccountsReceivable:
		return "Accounts Receivable", AccountTypeAsset
	case CodeInventoryAsset:
		return "Inventory Asset", AccountTypeAsset
	case CodeTaxPayable:
		return "Tax Payable", AccountTypeLiability
	case CodeCustomerAdvances:
		return "Customer Advances", AccountTypeLiability
	case CodeOpeningBalances:
		return "Opening Balance Equity", AccountTypeEquity
	case CodeSales:
		return "Sales", AccountTypeIncome
	case CodeStockGain:
		return "Stock Gain", AccountTypeIncome
	case CodeCOGS:
		return "Cost of Goods Sold", AccountTypeExpense
	case CodeStockShrinkage:
		return "Stock Shrinkage", AccountTypeExpense
	case CodeCash:
		return "Cash", AccountTypeAsset
	}
	return "", ""
}

// Account models a chart-of-accounts node, unique per (org, code).
type Account struct {
	ID        int64
	OrgID     int64
	Code      string
	Name      string
	Type      AccountType
	IsGroup   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is one immutable debit-or-credit row. Exactly one of Debit/Credit is
// non-zero; the rows of a single business event sum to equal debit and credit.
type Entry struct {
	ID          int64
	OrgID       int64
	BranchID    *int64
	AccountID   int64
	Debit       float64
	Credit      float64
	Date        time.Time
	RefType     ReferenceType
	RefID       int64
	CustomerID  *int64
	PaymentID   *int64
	Description string
	CreatedAt   time.Time
}

// TrialBalance summarises organization-wide posted totals.
type TrialBalance struct {
	OrgID       int64
	TotalDebit  float64
	TotalCredit float64
}

// Diff returns the absolute debit/credit difference.
func (t TrialBalance) Diff() float64 {
	return math.Abs(t.TotalDebit - t.TotalCredit)
}

// PostingLine is one line of a manual journal posting request.
type PostingLine struct {
	AccountID int64
	Debit     float64
	Credit    float64
}

// PostingInput groups fields required to post a manual journal.
type PostingInput struct {
	OrgID       int64
	BranchID    *int64
	Date        time.Time
	RefID       int64
	Description string
	Lines       []PostingLine
}

var (
	// ErrUnbalanced indicates debit != credit across a posting.
	ErrUnbalanced = fmt.Errorf("ledger: entries must balance: %w", shared.ErrValidation)
	// ErrTooFewLines indicates fewer than two lines.
	ErrTooFewLines = fmt.Errorf("ledger: posting requires at least two lines: %w", shared.ErrValidation)
	// ErrMixedSides indicates a row carrying both debit and credit.
	ErrMixedSides = fmt.Errorf("ledger: entry cannot be both debit and credit: %w", shared.ErrValidation)
	// ErrNoSuchRef indicates no entries exist for a reference.
	ErrNoSuchRef = fmt.Errorf("ledger: no entries for reference: %w", shared.ErrNotFound)
)

// Round2 rounds an amount to ledger precision (two decimals).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Validate ensures a manual posting is shaped and balanced.
func (in PostingInput) Validate() error {
	if in.OrgID == 0 {
		return fmt.Errorf("ledger: organization required: %w", shared.ErrValidation)
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account: %w", idx, shared.ErrValidation)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount: %w", idx, shared.ErrValidation)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return ErrMixedSides
		}
		debit += line.Debit
		credit += line.Credit
	}
	if fmt.Sprintf("%.2f", debit) != fmt.Sprintf("%.2f", credit) {
		return ErrUnbalanced
	}
	return nil
}
