package stock

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/shared"
)

type mockStockRepo struct {
	products    map[int64]Product
	levels      map[string]float64
	entries     []ledger.Entry
	adjustments int64
	accounts    map[string]ledger.Account
	nextAccount int64
}

func newMockStockRepo() *mockStockRepo {
	return &mockStockRepo{
		products:    make(map[int64]Product),
		levels:      make(map[string]float64),
		accounts:    make(map[string]ledger.Account),
		nextAccount: 1,
	}
}

func levelKey(productID, branchID int64) string {
	return fmt.Sprintf("%d:%d", productID, branchID)
}

func (m *mockStockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Stage on copies so a failed fn leaves the repo untouched.
	staged := newMockStockRepo()
	staged.products = m.products
	for k, v := range m.levels {
		staged.levels[k] = v
	}
	staged.entries = append(staged.entries, m.entries...)
	staged.adjustments = m.adjustments
	staged.accounts = m.accounts
	staged.nextAccount = m.nextAccount
	if err := fn(ctx, &mockStockTx{repo: staged}); err != nil {
		return err
	}
	m.levels = staged.levels
	m.entries = staged.entries
	m.adjustments = staged.adjustments
	m.nextAccount = staged.nextAccount
	return nil
}

type mockStockTx struct {
	repo *mockStockRepo
}

func (t *mockStockTx) DecrementForSale(ctx context.Context, orgID, productID, branchID int64, qty float64) error {
	key := levelKey(productID, branchID)
	current, ok := t.repo.levels[key]
	if !ok {
		return shared.ErrNotFound
	}
	if current < qty {
		return shared.ErrInsufficientStock
	}
	t.repo.levels[key] = current - qty
	return nil
}

func (t *mockStockTx) Increment(ctx context.Context, orgID, productID, branchID int64, qty float64) error {
	t.repo.levels[levelKey(productID, branchID)] += qty
	return nil
}

func (t *mockStockTx) GetProduct(ctx context.Context, orgID, productID int64) (Product, error) {
	p, ok := t.repo.products[productID]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (t *mockStockTx) GetLevel(ctx context.Context, orgID, productID, branchID int64) (Level, error) {
	qty, ok := t.repo.levels[levelKey(productID, branchID)]
	if !ok {
		return Level{}, shared.ErrNotFound
	}
	return Level{ProductID: productID, BranchID: branchID, Quantity: qty}, nil
}

func (t *mockStockTx) InsertAdjustment(ctx context.Context, in AdjustInput) (int64, error) {
	t.repo.adjustments++
	return t.repo.adjustments, nil
}

func (t *mockStockTx) Ledger() ledger.TxLedger {
	return &mockStockLedger{repo: t.repo}
}

type mockStockLedger struct {
	repo *mockStockRepo
}

func (l *mockStockLedger) GetOrCreateAccount(ctx context.Context, orgID int64, code, name string, typ ledger.AccountType) (ledger.Account, error) {
	if a, ok := l.repo.accounts[code]; ok {
		return a, nil
	}
	a := ledger.Account{ID: l.repo.nextAccount, OrgID: orgID, Code: code, Name: name, Type: typ}
	l.repo.nextAccount++
	l.repo.accounts[code] = a
	return a, nil
}

func (l *mockStockLedger) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	l.repo.entries = append(l.repo.entries, entries...)
	return nil
}

func (l *mockStockLedger) HasEntriesForRef(ctx context.Context, orgID int64, refType ledger.ReferenceType, refID int64) (bool, error) {
	return false, nil
}

func (l *mockStockLedger) EntriesForRef(ctx context.Context, orgID int64, refType ledger.ReferenceType, refID int64) ([]ledger.Entry, error) {
	return nil, nil
}

func TestAdjustSubtractPostsShrinkagePair(t *testing.T) {
	repo := newMockStockRepo()
	repo.products[1] = Product{ID: 1, OrgID: 1, PurchasePrice: 40}
	repo.levels[levelKey(1, 2)] = 10

	svc := NewService(repo)
	err := svc.Adjust(context.Background(), AdjustInput{
		OrgID: 1, ProductID: 1, BranchID: 2, Qty: 3,
		Direction: AdjustSubtract, Reason: "damaged goods",
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, repo.levels[levelKey(1, 2)])
	require.Len(t, repo.entries, 2)

	var debit, credit float64
	for _, e := range repo.entries {
		debit += e.Debit
		credit += e.Credit
		assert.Equal(t, ledger.RefAdjustment, e.RefType)
	}
	assert.Equal(t, 120.0, debit)
	assert.Equal(t, 120.0, credit)
}

func TestAdjustAddIncrementsAndPostsGain(t *testing.T) {
	repo := newMockStockRepo()
	repo.products[1] = Product{ID: 1, OrgID: 1, PurchasePrice: 25}

	svc := NewService(repo)
	err := svc.Adjust(context.Background(), AdjustInput{
		OrgID: 1, ProductID: 1, BranchID: 9, Qty: 4,
		Direction: AdjustAdd, Reason: "count correction",
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, repo.levels[levelKey(1, 9)])
	require.Len(t, repo.entries, 2)
	assert.Equal(t, 100.0, repo.entries[0].Debit) // inventory asset side
}

func TestAdjustInsufficientStockLeavesStateUntouched(t *testing.T) {
	repo := newMockStockRepo()
	repo.products[1] = Product{ID: 1, OrgID: 1, PurchasePrice: 10}
	repo.levels[levelKey(1, 2)] = 2

	svc := NewService(repo)
	err := svc.Adjust(context.Background(), AdjustInput{
		OrgID: 1, ProductID: 1, BranchID: 2, Qty: 5,
		Direction: AdjustSubtract,
	})
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.Equal(t, 2.0, repo.levels[levelKey(1, 2)])
	assert.Empty(t, repo.entries)
}

func TestTransferMovesQuantityWithoutLedger(t *testing.T) {
	repo := newMockStockRepo()
	repo.products[1] = Product{ID: 1, OrgID: 1}
	repo.levels[levelKey(1, 1)] = 8

	svc := NewService(repo)
	err := svc.Transfer(context.Background(), TransferInput{
		OrgID: 1, ProductID: 1, FromBranch: 1, ToBranch: 2, Qty: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, repo.levels[levelKey(1, 1)])
	assert.Equal(t, 5.0, repo.levels[levelKey(1, 2)])
	assert.Empty(t, repo.entries)
}

func TestTransferValidation(t *testing.T) {
	svc := NewService(newMockStockRepo())
	err := svc.Transfer(context.Background(), TransferInput{OrgID: 1, ProductID: 1, FromBranch: 3, ToBranch: 3, Qty: 1})
	assert.ErrorIs(t, err, ErrSameBranch)
	err = svc.Transfer(context.Background(), TransferInput{OrgID: 1, ProductID: 1, FromBranch: 1, ToBranch: 2, Qty: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
