package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish5476/apex/internal/customers"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/shared"
	"github.com/manish5476/apex/internal/stock"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockState struct {
	products      map[int64]stock.Product
	levels        map[string]float64
	customers     map[int64]customers.Customer
	invoices      []Invoice
	salesRecords  []SalesRecord
	entries       []ledger.Entry
	accounts      map[string]ledger.Account
	openingValues map[int64]float64
	nextInvoiceID int64
	nextAccountID int64
}

func (s *mockState) clone() *mockState {
	out := &mockState{
		products:      s.products,
		levels:        make(map[string]float64, len(s.levels)),
		customers:     make(map[int64]customers.Customer, len(s.customers)),
		accounts:      make(map[string]ledger.Account, len(s.accounts)),
		openingValues: s.openingValues,
		nextInvoiceID: s.nextInvoiceID,
		nextAccountID: s.nextAccountID,
	}
	for k, v := range s.levels {
		out.levels[k] = v
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	out.invoices = append(out.invoices, s.invoices...)
	out.salesRecords = append(out.salesRecords, s.salesRecords...)
	out.entries = append(out.entries, s.entries...)
	return out
}

type mockRepository struct {
	state *mockState

	txCalls        int
	transientFails int
}

func newMockRepository() *mockRepository {
	return &mockRepository{state: &mockState{
		products:      make(map[int64]stock.Product),
		levels:        make(map[string]float64),
		customers:     make(map[int64]customers.Customer),
		accounts:      make(map[string]ledger.Account),
		openingValues: make(map[int64]float64),
		nextInvoiceID: 1,
		nextAccountID: 1,
	}}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txCalls++
	if m.transientFails > 0 {
		m.transientFails--
		return shared.ErrTransientConflict
	}
	staged := m.state.clone()
	if err := fn(ctx, &mockTxRepo{state: staged}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

func (m *mockRepository) GetInvoice(ctx context.Context, orgID, invoiceID int64) (Invoice, error) {
	for _, inv := range m.state.invoices {
		if inv.OrgID == orgID && inv.ID == invoiceID {
			return inv, nil
		}
	}
	return Invoice{}, ErrInvoiceNotFound
}

type mockTxRepo struct {
	state *mockState
}

func (t *mockTxRepo) InsertInvoice(ctx context.Context, inv *Invoice) error {
	inv.ID = t.state.nextInvoiceID
	t.state.nextInvoiceID++
	inv.Number = fmt.Sprintf("INV-%06d", inv.ID)
	for i := range inv.Items {
		inv.Items[i].InvoiceID = inv.ID
	}
	t.state.invoices = append(t.state.invoices, *inv)
	return nil
}

func (t *mockTxRepo) InsertSalesRecord(ctx context.Context, rec SalesRecord) error {
	t.state.salesRecords = append(t.state.salesRecords, rec)
	return nil
}

func (t *mockTxRepo) OpeningValue(ctx context.Context, orgID, productID int64) (float64, error) {
	return t.state.openingValues[productID], nil
}

func (t *mockTxRepo) Stock() stock.TxStock             { return &mockTxStock{state: t.state} }
func (t *mockTxRepo) Customers() customers.TxCustomers { return &mockTxCustomers{state: t.state} }
func (t *mockTxRepo) Ledger() ledger.TxLedger          { return &mockTxLedger{state: t.state} }

type mockTxStock struct {
	state *mockState
}

func stockKey(productID, branchID int64) string {
	return fmt.Sprintf("%d:%d", productID, branchID)
}

func (s *mockTxStock) DecrementForSale(ctx context.Context, orgID, productID, branchID int64, qty float64) error {
	key := stockKey(productID, branchID)
	current, ok := s.state.levels[key]
	if !ok {
		return shared.ErrNotFound
	}
	if current < qty {
		return shared.ErrInsufficientStock
	}
	s.state.levels[key] = current - qty
	return nil
}

func (s *mockTxStock) Increment(ctx context.Context, orgID, productID, branchID int64, qty float64) error {
	s.state.levels[stockKey(productID, branchID)] += qty
	return nil
}

func (s *mockTxStock) GetProduct(ctx context.Context, orgID, productID int64) (stock.Product, error) {
	p, ok := s.state.products[productID]
	if !ok {
		return stock.Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (s *mockTxStock) GetLevel(ctx context.Context, orgID, productID, branchID int64) (stock.Level, error) {
	qty, ok := s.state.levels[stockKey(productID, branchID)]
	if !ok {
		return stock.Level{}, shared.ErrNotFound
	}
	return stock.Level{ProductID: productID, BranchID: branchID, Quantity: qty}, nil
}

func (s *mockTxStock) InsertAdjustment(ctx context.Context, in stock.AdjustInput) (int64, error) {
	return 0, errors.New("not used")
}

type mockTxCustomers struct {
	state *mockState
}

func (c *mockTxCustomers) GetForUpdate(ctx context.Context, orgID, customerID int64) (customers.Customer, error) {
	cust, ok := c.state.customers[customerID]
	if !ok {
		return customers.Customer{}, shared.ErrNotFound
	}
	return cust, nil
}

func (c *mockTxCustomers) AddOutstanding(ctx context.Context, orgID, customerID int64, delta float64) error {
	cust, ok := c.state.customers[customerID]
	if !ok {
		return shared.ErrNotFound
	}
	cust.OutstandingBalance += delta
	c.state.customers[customerID] = cust
	return nil
}

func (c *mockTxCustomers) SetAdvance(ctx context.Context, orgID, customerID int64, advance float64) error {
	cust, ok := c.state.customers[customerID]
	if !ok {
		return shared.ErrNotFound
	}
	cust.AdvanceBalance = advance
	c.state.customers[customerID] = cust
	return nil
}

type mockTxLedger struct {
	state *mockState
}

func (l *mockTxLedger) GetOrCreateAccount(ctx context.Context, orgID int64, code, name string, typ ledger.AccountType) (ledger.Account, error) {
	if a, ok := l.state.accounts[code]; ok {
		return a, nil
	}
	a := ledger.Account{ID: l.state.nextAccountID, OrgID: orgID, Code: code, Name: name, Type: typ}
	l.state.nextAccountID++
	l.state.accounts[code] = a
	return a, nil
}

func (l *mockTxLedger) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if e.Debit == 0 && e.Credit == 0 {
			continue
		}
		l.state.entries = append(l.state.entries, e)
	}
	return nil
}

func (l *mockTxLedger) HasEntriesForRef(ctx context.Context, orgID int64, refType ledger.ReferenceType, refID int64) (bool, error) {
	for _, e := range l.state.entries {
		if e.OrgID == orgID && e.RefType == refType && e.RefID == refID {
			return true, nil
		}
	}
	return false, nil
}

func (l *mockTxLedger) EntriesForRef(ctx context.Context, orgID int64, refType ledger.ReferenceType, refID int64) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range l.state.entries {
		if e.OrgID == orgID && e.RefType == refType && e.RefID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockNotifier struct {
	events []NewSaleEvent
	err    error
}

func (n *mockNotifier) NewSale(ctx context.Context, event NewSaleEvent) error {
	n.events = append(n.events, event)
	return n.err
}

// ============================================================================
// TESTS
// ============================================================================

func testLogger() *slog.Logger {
	return slog.Default()
}

func seededRepo() *mockRepository {
	repo := newMockRepository()
	repo.state.customers[1] = customers.Customer{ID: 1, OrgID: 1, Name: "Acme"}
	repo.state.products[10] = stock.Product{ID: 10, OrgID: 1, Name: "Widget", PurchasePrice: 0}
	repo.state.products[11] = stock.Product{ID: 11, OrgID: 1, Name: "Gadget", PurchasePrice: 0}
	repo.state.levels[stockKey(10, 1)] = 5
	repo.state.levels[stockKey(11, 1)] = 5
	return repo
}

func TestCreateInvoiceHappyPath(t *testing.T) {
	repo := seededRepo()
	notifier := &mockNotifier{}
	svc := NewService(repo, notifier, testLogger(), 3)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{
			{ProductID: 10, Quantity: 3, Price: 100},
			{ProductID: 11, Quantity: 1, Price: 50},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 350.0, inv.GrandTotal)
	assert.Equal(t, 350.0, inv.BalanceAmount)
	assert.Equal(t, PaymentUnpaid, inv.PaymentStatus)
	assert.Equal(t, "INV-000001", inv.Number)

	assert.Equal(t, 2.0, repo.state.levels[stockKey(10, 1)])
	assert.Equal(t, 4.0, repo.state.levels[stockKey(11, 1)])
	assert.Equal(t, 350.0, repo.state.customers[1].OutstandingBalance)

	var debitAR, creditSales float64
	for _, e := range repo.state.entries {
		require.Equal(t, ledger.RefInvoice, e.RefType)
		if e.AccountID == repo.state.accounts[ledger.CodeAccountsReceivable].ID {
			debitAR += e.Debit
		}
		if e.AccountID == repo.state.accounts[ledger.CodeSales].ID {
			creditSales += e.Credit
		}
	}
	assert.Equal(t, 350.0, debitAR)
	assert.Equal(t, 350.0, creditSales)

	require.Len(t, repo.state.salesRecords, 1)
	assert.Equal(t, 350.0, repo.state.salesRecords[0].Amount)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "INV-000001", notifier.events[0].InvoiceNumber)
}

func TestCreateInvoiceInsufficientStockAbortsEverything(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, testLogger(), 3)

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 9, Price: 100}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	assert.Empty(t, repo.state.invoices)
	assert.Empty(t, repo.state.entries)
	assert.Empty(t, repo.state.salesRecords)
	assert.Equal(t, 5.0, repo.state.levels[stockKey(10, 1)])
	assert.Equal(t, 0.0, repo.state.customers[1].OutstandingBalance)
	// Business failures are never retried.
	assert.Equal(t, 1, repo.txCalls)
}

func TestCreateInvoiceValidationRunsBeforeTx(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, testLogger(), 3)

	_, err := svc.Create(context.Background(), CreateInput{OrgID: 1, CustomerID: 1, BranchID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, 0, repo.txCalls)

	_, err = svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: -2, Price: 10}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, 0, repo.txCalls)
}

func TestCreateInvoiceRetriesTransientConflicts(t *testing.T) {
	repo := seededRepo()
	repo.transientFails = 2
	svc := NewService(repo, nil, testLogger(), 3)
	retries := 0
	svc.WithRetryHook(func() { retries++ })

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, inv.GrandTotal)
	assert.Equal(t, 3, repo.txCalls)
	assert.Equal(t, 2, retries)
}

func TestCreateInvoiceRetryBudgetExhausted(t *testing.T) {
	repo := seededRepo()
	repo.transientFails = 5
	svc := NewService(repo, nil, testLogger(), 3)

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 1, Price: 100}},
	})
	require.ErrorIs(t, err, shared.ErrTransientConflict)
	assert.Equal(t, 3, repo.txCalls)
}

func TestCreateInvoiceNotifierFailureSwallowed(t *testing.T) {
	repo := seededRepo()
	notifier := &mockNotifier{err: errors.New("redis down")}
	svc := NewService(repo, notifier, testLogger(), 3)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)
	assert.NotZero(t, inv.ID)
}

func TestCreateInvoicePostsCOGSPairs(t *testing.T) {
	repo := seededRepo()
	repo.state.products[10] = stock.Product{ID: 10, OrgID: 1, PurchasePrice: 60}
	svc := NewService(repo, nil, testLogger(), 3)

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 2, Price: 100, Tax: 20}},
	})
	require.NoError(t, err)

	var debit, credit float64
	for _, e := range repo.state.entries {
		debit += e.Debit
		credit += e.Credit
	}
	assert.InDelta(t, debit, credit, 0.001)

	cogsID := repo.state.accounts[ledger.CodeCOGS].ID
	var cogsDebit float64
	for _, e := range repo.state.entries {
		if e.AccountID == cogsID {
			cogsDebit += e.Debit
		}
	}
	assert.Equal(t, 120.0, cogsDebit)
}

func TestOpeningJournalPostedExactlyOnce(t *testing.T) {
	repo := seededRepo()
	repo.state.products[10] = stock.Product{ID: 10, OrgID: 1, PurchasePrice: 40}
	repo.state.openingValues[10] = 200
	svc := NewService(repo, nil, testLogger(), 3)

	countOpening := func() int {
		n := 0
		for _, e := range repo.state.entries {
			if e.RefType == ledger.RefJournal && e.RefID == 10 {
				n++
			}
		}
		return n
	}

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countOpening())

	_, err = svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countOpening())
}

func TestOpeningJournalCarriesSellingBranch(t *testing.T) {
	repo := seededRepo()
	repo.state.products[10] = stock.Product{ID: 10, OrgID: 1, PurchasePrice: 40}
	repo.state.openingValues[10] = 200
	svc := NewService(repo, nil, testLogger(), 3)

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: 1, CustomerID: 1, BranchID: 1,
		Items: []ItemInput{{ProductID: 10, Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	for _, e := range repo.state.entries {
		if e.RefType != ledger.RefJournal {
			continue
		}
		require.NotNil(t, e.BranchID)
		assert.Equal(t, int64(1), *e.BranchID)
	}
}
