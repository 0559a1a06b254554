package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manish5476/apex/internal/platform/db"
)

// TxLedger exposes the ledger operations available inside a transaction.
// Other modules compose it into their own transactional repositories so a
// posting commits or rolls back with the business event that produced it.
type TxLedger interface {
	GetOrCreateAccount(ctx context.Context, orgID int64, code, name string, typ AccountType) (Account, error)
	InsertEntries(ctx context.Context, entries []Entry) error
	HasEntriesForRef(ctx context.Context, orgID int64, refType ReferenceType, refID int64) (bool, error)
	EntriesForRef(ctx context.Context, orgID int64, refType ReferenceType, refID int64) ([]Entry, error)
}

// TxStore is the pgx-backed TxLedger implementation.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetOrCreateAccount finds an account by (org, code) or creates it, as a
// single atomic upsert. Safe under concurrent first-time postings.
func (s *TxStore) GetOrCreateAccount(ctx context.Context, orgID int64, code, name string, typ AccountType) (Account, error) {
	var a Account
	err := s.tx.QueryRow(ctx, `
INSERT INTO accounts (org_id, code, name, type, is_group)
VALUES ($1, $2, $3, $4, FALSE)
ON CONFLICT (org_id, code) DO UPDATE SET updated_at = NOW()
RETURNING id, org_id, code, name, type, is_group, created_at, updated_at`,
		orgID, code, name, typ).
		Scan(&a.ID, &a.OrgID, &a.Code, &a.Name, &a.Type, &a.IsGroup, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// InsertEntries persists a batch of entries. Each row must carry exactly one
// non-zero side; balance across the batch is the caller's contract.
func (s *TxStore) InsertEntries(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Debit > 0 && e.Credit > 0 {
			return ErrMixedSides
		}
		if e.Debit == 0 && e.Credit == 0 {
			continue
		}
		_, err := s.tx.Exec(ctx, `
INSERT INTO ledger_entries (org_id, branch_id, account_id, debit, credit, entry_date, ref_type, ref_id, customer_id, payment_id, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.OrgID, e.BranchID, e.AccountID, Round2(e.Debit), Round2(e.Credit), e.Date,
			e.RefType, e.RefID, e.CustomerID, e.PaymentID, e.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

// HasEntriesForRef reports whether any entry exists for a source document.
func (s *TxStore) HasEntriesForRef(ctx context.Context, orgID int64, refType ReferenceType, refID int64) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE org_id=$1 AND ref_type=$2 AND ref_id=$3)`,
		orgID, refType, refID).Scan(&exists)
	return exists, err
}

// EntriesForRef lists entries for a source document in insertion order.
func (s *TxStore) EntriesForRef(ctx context.Context, orgID int64, refType ReferenceType, refID int64) ([]Entry, error) {
	rows, err := s.tx.Query(ctx, `
SELECT id, org_id, branch_id, account_id, debit, credit, entry_date, ref_type, ref_id, customer_id, payment_id, description, created_at
FROM ledger_entries WHERE org_id=$1 AND ref_type=$2 AND ref_id=$3 ORDER BY id ASC`,
		orgID, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.BranchID, &e.AccountID, &e.Debit, &e.Credit, &e.Date,
			&e.RefType, &e.RefID, &e.CustomerID, &e.PaymentID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxLedger) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// TrialBalance sums posted debits and credits for one organization.
func (r *Repository) TrialBalance(ctx context.Context, orgID int64) (TrialBalance, error) {
	tb := TrialBalance{OrgID: orgID}
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(debit),0), COALESCE(SUM(credit),0) FROM ledger_entries WHERE org_id=$1`,
		orgID).Scan(&tb.TotalDebit, &tb.TotalCredit)
	return tb, err
}

// ListOrgIDs returns every organization that has posted entries.
func (r *Repository) ListOrgIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT org_id FROM ledger_entries ORDER BY org_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAccounts returns the organization's chart of accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context, orgID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, org_id, code, name, type, is_group, created_at, updated_at FROM accounts WHERE org_id=$1 ORDER BY code`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Code, &a.Name, &a.Type, &a.IsGroup, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
