package invoicing

import (
	"context"
	"log/slog"
	"time"

	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, orgID, invoiceID int64) (Invoice, error)
}

// NotifierPort delivers post-commit sale notifications.
type NotifierPort interface {
	NewSale(ctx context.Context, event NewSaleEvent) error
}

// Service orchestrates atomic invoice creation.
type Service struct {
	repo     RepositoryPort
	notifier NotifierPort
	logger   *slog.Logger
	attempts int
	onRetry  func()
	now      func() time.Time
}

// NewService constructs the invoice workflow service. attempts bounds the
// retry count for transient conflicts.
func NewService(repo RepositoryPort, notifier NotifierPort, logger *slog.Logger, attempts int) *Service {
	if attempts < 1 {
		attempts = 3
	}
	return &Service{repo: repo, notifier: notifier, logger: logger, attempts: attempts, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRetryHook registers a callback fired on each transient-conflict retry.
func (s *Service) WithRetryHook(fn func()) {
	s.onRetry = fn
}

// Create runs the whole invoice workflow in one atomic scope: stock
// decrement, customer balance, ledger postings and the sales record commit
// or roll back together. Only transient conflicts are retried; business
// rejections abort immediately.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invoice, error) {
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}

	var created Invoice
	attempt := 0
	err := shared.Retry(ctx, s.attempts, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && s.onRetry != nil {
			s.onRetry()
		}
		inv, err := buildInvoice(in, s.now().UTC())
		if err != nil {
			return err
		}
		if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return s.createInTx(ctx, tx, &inv)
		}); err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	// Post-commit only. Notification failures are logged and swallowed,
	// never surfaced to the caller.
	if s.notifier != nil {
		event := NewSaleEvent{
			OrganizationID: created.OrgID,
			InvoiceNumber:  created.Number,
			GrandTotal:     created.GrandTotal,
		}
		if err := s.notifier.NewSale(ctx, event); err != nil && s.logger != nil {
			s.logger.Error("new sale notification failed",
				slog.String("invoice", created.Number), slog.Any("error", err))
		}
	}
	return created, nil
}

func (s *Service) createInTx(ctx context.Context, tx TxRepository, inv *Invoice) error {
	if _, err := tx.Customers().GetForUpdate(ctx, inv.OrgID, inv.CustomerID); err != nil {
		return err
	}
	if err := tx.InsertInvoice(ctx, inv); err != nil {
		return err
	}

	costs := make(map[int64]float64, len(inv.Items))
	for _, item := range inv.Items {
		product, err := tx.Stock().GetProduct(ctx, inv.OrgID, item.ProductID)
		if err != nil {
			return err
		}
		costs[item.ProductID] = product.PurchasePrice
		if err := tx.Stock().DecrementForSale(ctx, inv.OrgID, item.ProductID, inv.BranchID, item.Quantity); err != nil {
			return err
		}
	}

	if err := tx.Customers().AddOutstanding(ctx, inv.OrgID, inv.CustomerID, inv.BalanceAmount); err != nil {
		return err
	}

	if err := s.postLedger(ctx, tx, inv, costs); err != nil {
		return err
	}

	return tx.InsertSalesRecord(ctx, SalesRecord{
		OrgID:      inv.OrgID,
		InvoiceID:  inv.ID,
		CustomerID: inv.CustomerID,
		BranchID:   inv.BranchID,
		Amount:     inv.GrandTotal,
		SoldAt:     inv.CreatedAt,
	})
}

// postLedger writes the double entry for the invoice:
// Debit AR for grand total, Credit Sales for grand total minus tax, Credit
// Tax Payable for tax, plus a COGS/Inventory pair per costed item. The AR
// debit carries the customer tag and doubles as the customer ledger row.
func (s *Service) postLedger(ctx context.Context, tx TxRepository, inv *Invoice, costs map[int64]float64) error {
	lg := tx.Ledger()
	account := func(code string) (ledger.Account, error) {
		name, typ := ledger.AccountDefaults(code)
		return lg.GetOrCreateAccount(ctx, inv.OrgID, code, name, typ)
	}

	ar, err := account(ledger.CodeAccountsReceivable)
	if err != nil {
		return err
	}
	sales, err := account(ledger.CodeSales)
	if err != nil {
		return err
	}

	branchID := inv.BranchID
	customerID := inv.CustomerID
	entries := []ledger.Entry{
		{OrgID: inv.OrgID, BranchID: &branchID, AccountID: ar.ID, Debit: inv.GrandTotal, Date: inv.CreatedAt,
			RefType: ledger.RefInvoice, RefID: inv.ID, CustomerID: &customerID, Description: inv.Number},
		{OrgID: inv.OrgID, BranchID: &branchID, AccountID: sales.ID, Credit: ledger.Round2(inv.GrandTotal - inv.TotalTax),
			Date: inv.CreatedAt, RefType: ledger.RefInvoice, RefID: inv.ID, Description: inv.Number},
	}
	if inv.TotalTax > 0 {
		tax, err := account(ledger.CodeTaxPayable)
		if err != nil {
			return err
		}
		entries = append(entries, ledger.Entry{
			OrgID: inv.OrgID, BranchID: &branchID, AccountID: tax.ID, Credit: inv.TotalTax,
			Date: inv.CreatedAt, RefType: ledger.RefInvoice, RefID: inv.ID, Description: inv.Number,
		})
	}

	var cogs, inventory ledger.Account
	haveCostAccounts := false
	for _, item := range inv.Items {
		cost := costs[item.ProductID]
		if cost <= 0 {
			continue
		}
		if !haveCostAccounts {
			if cogs, err = account(ledger.CodeCOGS); err != nil {
				return err
			}
			if inventory, err = account(ledger.CodeInventoryAsset); err != nil {
				return err
			}
			haveCostAccounts = true
		}
		value := ledger.Round2(item.Quantity * cost)
		entries = append(entries,
			ledger.Entry{OrgID: inv.OrgID, BranchID: &branchID, AccountID: cogs.ID, Debit: value,
				Date: inv.CreatedAt, RefType: ledger.RefInvoice, RefID: inv.ID, Description: inv.Number},
			ledger.Entry{OrgID: inv.OrgID, BranchID: &branchID, AccountID: inventory.ID, Credit: value,
				Date: inv.CreatedAt, RefType: ledger.RefInvoice, RefID: inv.ID, Description: inv.Number},
		)
	}
	if err := lg.InsertEntries(ctx, entries); err != nil {
		return err
	}

	return s.postOpeningJournals(ctx, tx, inv)
}

// postOpeningJournals posts the one-time opening stock journal for each
// product the first time it shows up in a posting. Guarded by an explicit
// existence check so repeated sales never duplicate it.
func (s *Service) postOpeningJournals(ctx context.Context, tx TxRepository, inv *Invoice) error {
	lg := tx.Ledger()
	for _, item := range inv.Items {
		value, err := tx.OpeningValue(ctx, inv.OrgID, item.ProductID)
		if err != nil {
			return err
		}
		if value <= 0 {
			continue
		}
		exists, err := lg.HasEntriesForRef(ctx, inv.OrgID, ledger.RefJournal, item.ProductID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		invName, invType := ledger.AccountDefaults(ledger.CodeInventoryAsset)
		inventory, err := lg.GetOrCreateAccount(ctx, inv.OrgID, ledger.CodeInventoryAsset, invName, invType)
		if err != nil {
			return err
		}
		eqName, eqType := ledger.AccountDefaults(ledger.CodeOpeningBalances)
		equity, err := lg.GetOrCreateAccount(ctx, inv.OrgID, ledger.CodeOpeningBalances, eqName, eqType)
		if err != nil {
			return err
		}
		value = ledger.Round2(value)
		branchID := inv.BranchID
		err = lg.InsertEntries(ctx, []ledger.Entry{
			{OrgID: inv.OrgID, BranchID: &branchID, AccountID: inventory.ID, Debit: value, Date: inv.CreatedAt,
				RefType: ledger.RefJournal, RefID: item.ProductID, Description: "opening stock"},
			{OrgID: inv.OrgID, BranchID: &branchID, AccountID: equity.ID, Credit: value, Date: inv.CreatedAt,
				RefType: ledger.RefJournal, RefID: item.ProductID, Description: "opening stock"},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Get loads one invoice.
func (s *Service) Get(ctx context.Context, orgID, invoiceID int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, orgID, invoiceID)
}
