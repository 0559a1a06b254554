package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxLedger) error) error
	TrialBalance(ctx context.Context, orgID int64) (TrialBalance, error)
	ListAccounts(ctx context.Context, orgID int64) ([]Account, error)
}

// Service coordinates manual journal posting, reversal, and reads.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromPool is a convenience constructor over a pgx pool.
func NewServiceFromPool(pool *pgxpool.Pool) *Service {
	return NewService(NewRepository(pool))
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostJournal validates and persists a balanced manual journal.
func (s *Service) PostJournal(ctx context.Context, in PostingInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	date := in.Date
	if date.IsZero() {
		date = s.now().UTC()
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxLedger) error {
		entries := make([]Entry, 0, len(in.Lines))
		for _, line := range in.Lines {
			entries = append(entries, Entry{
				OrgID:       in.OrgID,
				BranchID:    in.BranchID,
				AccountID:   line.AccountID,
				Debit:       line.Debit,
				Credit:      line.Credit,
				Date:        date,
				RefType:     RefJournal,
				RefID:       in.RefID,
				Description: in.Description,
			})
		}
		return tx.InsertEntries(ctx, entries)
	})
}

// ReverseInvoice posts offsetting credit-note entries for a committed
// invoice. Originals are never mutated or deleted.
func (s *Service) ReverseInvoice(ctx context.Context, orgID, invoiceID int64, reason string) error {
	date := s.now().UTC()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxLedger) error {
		originals, err := tx.EntriesForRef(ctx, orgID, RefInvoice, invoiceID)
		if err != nil {
			return err
		}
		if len(originals) == 0 {
			return ErrNoSuchRef
		}
		reversed := make([]Entry, 0, len(originals))
		for _, e := range originals {
			reversed = append(reversed, Entry{
				OrgID:       e.OrgID,
				BranchID:    e.BranchID,
				AccountID:   e.AccountID,
				Debit:       e.Credit,
				Credit:      e.Debit,
				Date:        date,
				RefType:     RefCreditNote,
				RefID:       invoiceID,
				CustomerID:  e.CustomerID,
				Description: reason,
			})
		}
		return tx.InsertEntries(ctx, reversed)
	})
}

// TrialBalance returns organization-wide posted totals.
func (s *Service) TrialBalance(ctx context.Context, orgID int64) (TrialBalance, error) {
	return s.repo.TrialBalance(ctx, orgID)
}

// ListAccounts returns the chart of accounts.
func (s *Service) ListAccounts(ctx context.Context, orgID int64) ([]Account, error) {
	return s.repo.ListAccounts(ctx, orgID)
}
