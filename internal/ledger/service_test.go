package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedgerRepo struct {
	entries  []Entry
	accounts map[string]Account
	nextID   int64
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{accounts: make(map[string]Account), nextID: 1}
}

func (m *mockLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxLedger) error) error {
	staged := &mockTxLedger{repo: m}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	m.entries = append(m.entries, staged.pending...)
	return nil
}

func (m *mockLedgerRepo) TrialBalance(ctx context.Context, orgID int64) (TrialBalance, error) {
	tb := TrialBalance{OrgID: orgID}
	for _, e := range m.entries {
		if e.OrgID != orgID {
			continue
		}
		tb.TotalDebit += e.Debit
		tb.TotalCredit += e.Credit
	}
	return tb, nil
}

func (m *mockLedgerRepo) ListAccounts(ctx context.Context, orgID int64) ([]Account, error) {
	var out []Account
	for _, a := range m.accounts {
		if a.OrgID == orgID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockTxLedger struct {
	repo    *mockLedgerRepo
	pending []Entry
}

func (t *mockTxLedger) GetOrCreateAccount(ctx context.Context, orgID int64, code, name string, typ AccountType) (Account, error) {
	key := code
	if a, ok := t.repo.accounts[key]; ok {
		return a, nil
	}
	a := Account{ID: t.repo.nextID, OrgID: orgID, Code: code, Name: name, Type: typ}
	t.repo.nextID++
	t.repo.accounts[key] = a
	return a, nil
}

func (t *mockTxLedger) InsertEntries(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Debit > 0 && e.Credit > 0 {
			return ErrMixedSides
		}
		if e.Debit == 0 && e.Credit == 0 {
			continue
		}
		t.pending = append(t.pending, e)
	}
	return nil
}

func (t *mockTxLedger) HasEntriesForRef(ctx context.Context, orgID int64, refType ReferenceType, refID int64) (bool, error) {
	for _, e := range t.repo.entries {
		if e.OrgID == orgID && e.RefType == refType && e.RefID == refID {
			return true, nil
		}
	}
	return false, nil
}

func (t *mockTxLedger) EntriesForRef(ctx context.Context, orgID int64, refType ReferenceType, refID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range t.repo.entries {
		if e.OrgID == orgID && e.RefType == refType && e.RefID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestPostingInputValidate(t *testing.T) {
	base := PostingInput{
		OrgID: 1,
		Lines: []PostingLine{
			{AccountID: 1, Debit: 100},
			{AccountID: 2, Credit: 100},
		},
	}
	require.NoError(t, base.Validate())

	unbalanced := base
	unbalanced.Lines = []PostingLine{{AccountID: 1, Debit: 100}, {AccountID: 2, Credit: 90}}
	assert.ErrorIs(t, unbalanced.Validate(), ErrUnbalanced)

	short := base
	short.Lines = base.Lines[:1]
	assert.ErrorIs(t, short.Validate(), ErrTooFewLines)

	mixed := base
	mixed.Lines = []PostingLine{{AccountID: 1, Debit: 100, Credit: 100}, {AccountID: 2, Credit: 0}}
	assert.ErrorIs(t, mixed.Validate(), ErrMixedSides)
}

func TestPostJournalPersistsBalancedEntries(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })

	err := svc.PostJournal(context.Background(), PostingInput{
		OrgID: 7,
		RefID: 42,
		Lines: []PostingLine{
			{AccountID: 1, Debit: 250},
			{AccountID: 2, Credit: 250},
		},
	})
	require.NoError(t, err)
	require.Len(t, repo.entries, 2)
	for _, e := range repo.entries {
		assert.Equal(t, RefJournal, e.RefType)
		assert.Equal(t, int64(42), e.RefID)
		assert.Equal(t, int64(7), e.OrgID)
	}

	tb, err := repo.TrialBalance(context.Background(), 7)
	require.NoError(t, err)
	assert.InDelta(t, tb.TotalDebit, tb.TotalCredit, 0.001)
}

func TestPostJournalRejectsUnbalanced(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo)

	err := svc.PostJournal(context.Background(), PostingInput{
		OrgID: 1,
		Lines: []PostingLine{
			{AccountID: 1, Debit: 100},
			{AccountID: 2, Credit: 50},
		},
	})
	assert.ErrorIs(t, err, ErrUnbalanced)
	assert.Empty(t, repo.entries)
}

func TestReverseInvoiceSwapsSides(t *testing.T) {
	repo := newMockLedgerRepo()
	repo.entries = []Entry{
		{OrgID: 1, AccountID: 10, Debit: 350, RefType: RefInvoice, RefID: 5},
		{OrgID: 1, AccountID: 20, Credit: 350, RefType: RefInvoice, RefID: 5},
	}
	svc := NewService(repo)

	require.NoError(t, svc.ReverseInvoice(context.Background(), 1, 5, "customer return"))
	require.Len(t, repo.entries, 4)

	reversals := repo.entries[2:]
	assert.Equal(t, RefCreditNote, reversals[0].RefType)
	assert.Equal(t, 350.0, reversals[0].Credit)
	assert.Equal(t, 0.0, reversals[0].Debit)
	assert.Equal(t, 350.0, reversals[1].Debit)
}

func TestReverseInvoiceMissingRef(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo)
	err := svc.ReverseInvoice(context.Background(), 1, 99, "")
	assert.ErrorIs(t, err, ErrNoSuchRef)
}
