package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/payments"
)

type mockPayments struct {
	stale        []payments.Payment
	allocateErrs map[int64]error
	allocated    []int64
	failureNotes []int64
	retired      int64
}

func (m *mockPayments) StaleUnallocated(_ context.Context, _ time.Time, batch int) ([]payments.Payment, error) {
	if len(m.stale) > batch {
		return m.stale[:batch], nil
	}
	return m.stale, nil
}

func (m *mockPayments) Allocate(_ context.Context, _, paymentID int64) (payments.Payment, error) {
	if err := m.allocateErrs[paymentID]; err != nil {
		return payments.Payment{}, err
	}
	m.allocated = append(m.allocated, paymentID)
	return payments.Payment{ID: paymentID, AllocationStatus: payments.FullyAllocated}, nil
}

func (m *mockPayments) NoteFailure(_ context.Context, _, paymentID int64) (bool, error) {
	m.failureNotes = append(m.failureNotes, paymentID)
	return false, nil
}

func (m *mockPayments) RetireManualReview(_ context.Context, _ time.Time) (int64, error) {
	return m.retired, nil
}

type mockLedgerPort struct {
	balances map[int64]ledger.TrialBalance
}

func (m *mockLedgerPort) ListOrgIDs(_ context.Context) ([]int64, error) {
	var out []int64
	for orgID := range m.balances {
		out = append(out, orgID)
	}
	return out, nil
}

func (m *mockLedgerPort) TrialBalance(_ context.Context, orgID int64) (ledger.TrialBalance, error) {
	return m.balances[orgID], nil
}

type mockReconRepo struct {
	corrected int64
	purged    int64
	logs      []RunLog
}

func (m *mockReconRepo) RecomputeOutstanding(_ context.Context, _ float64) (int64, error) {
	return m.corrected, nil
}

func (m *mockReconRepo) InsertRunLog(_ context.Context, log *RunLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockReconRepo) PurgeRunLogs(_ context.Context, _ time.Time) (int64, error) {
	return m.purged, nil
}

func TestIntegrityCheck(t *testing.T) {
	ctx := context.Background()
	led := &mockLedgerPort{balances: map[int64]ledger.TrialBalance{
		1: {OrgID: 1, TotalDebit: 500, TotalCredit: 400},
		2: {OrgID: 2, TotalDebit: 900, TotalCredit: 900},
	}}
	sweeper := NewSweeper(DefaultConfig(), &mockReconRepo{}, &mockPayments{}, led, nil, nil, nil)

	violations, err := sweeper.IntegrityCheck(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, int64(1), violations[0].OrgID)
	assert.Equal(t, 500.0, violations[0].TotalDebit)
	assert.Equal(t, 400.0, violations[0].TotalCredit)
	assert.Equal(t, 100.0, violations[0].Diff)
}

func TestAllocationCatchUp(t *testing.T) {
	ctx := context.Background()
	pay := &mockPayments{
		stale: []payments.Payment{
			{ID: 10, OrgID: 1},
			{ID: 11, OrgID: 1},
			{ID: 12, OrgID: 2},
		},
		allocateErrs: map[int64]error{11: errors.New("customer row missing")},
	}
	repo := &mockReconRepo{}
	sweeper := NewSweeper(DefaultConfig(), repo, pay, &mockLedgerPort{}, nil, nil, nil)

	err := sweeper.RunSection(ctx, SectionAllocation)
	require.NoError(t, err)

	assert.Equal(t, []int64{10, 12}, pay.allocated)
	assert.Equal(t, []int64{11}, pay.failureNotes)
	require.Len(t, repo.logs, 1)
	assert.Equal(t, int64(2), repo.logs[0].Processed)
	assert.Equal(t, int64(1), repo.logs[0].Failed)
}

func TestCatchUpRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	pay := &mockPayments{}
	for i := int64(0); i < 80; i++ {
		pay.stale = append(pay.stale, payments.Payment{ID: i + 1, OrgID: 1})
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 50
	sweeper := NewSweeper(cfg, &mockReconRepo{}, pay, &mockLedgerPort{}, nil, nil, nil)

	require.NoError(t, sweeper.RunSection(ctx, SectionAllocation))
	assert.Len(t, pay.allocated, 50)
}

func TestRunSectionUnknown(t *testing.T) {
	sweeper := NewSweeper(DefaultConfig(), &mockReconRepo{}, &mockPayments{}, &mockLedgerPort{}, nil, nil, nil)
	err := sweeper.RunSection(context.Background(), Section("defrag"))
	assert.ErrorIs(t, err, ErrUnknownSection)
}

func TestCleanupTotals(t *testing.T) {
	ctx := context.Background()
	repo := &mockReconRepo{purged: 7}
	pay := &mockPayments{retired: 3}
	sweeper := NewSweeper(DefaultConfig(), repo, pay, &mockLedgerPort{}, nil, nil, nil)

	require.NoError(t, sweeper.RunSection(ctx, SectionCleanup))
	require.Len(t, repo.logs, 1)
	assert.Equal(t, int64(10), repo.logs[0].Processed)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := redislock.New(client)

	held, err := locker.Obtain(ctx, lockKey, time.Minute, nil)
	require.NoError(t, err)
	defer held.Release(ctx)

	repo := &mockReconRepo{}
	sweeper := NewSweeper(DefaultConfig(), repo, &mockPayments{}, &mockLedgerPort{}, locker, nil, nil)

	require.NoError(t, sweeper.Run(ctx))
	assert.Empty(t, repo.logs, "no section should run while another instance holds the lock")
}

func TestRunSectionRespectsLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := redislock.New(client)

	held, err := locker.Obtain(ctx, lockKey, time.Minute, nil)
	require.NoError(t, err)

	repo := &mockReconRepo{}
	sweeper := NewSweeper(DefaultConfig(), repo, &mockPayments{}, &mockLedgerPort{}, locker, nil, nil)

	// Scheduled single-section runs must not race a full sweep elsewhere.
	require.NoError(t, sweeper.RunSection(ctx, SectionCleanup))
	assert.Empty(t, repo.logs)

	require.NoError(t, held.Release(ctx))
	require.NoError(t, sweeper.RunSection(ctx, SectionCleanup))
	require.Len(t, repo.logs, 1)
	assert.Equal(t, SectionCleanup, repo.logs[0].Section)
}

func TestRunExecutesAllSectionsUnderLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := &mockReconRepo{}
	sweeper := NewSweeper(DefaultConfig(), repo, &mockPayments{}, &mockLedgerPort{}, redislock.New(client), nil, nil)

	require.NoError(t, sweeper.Run(ctx))
	require.Len(t, repo.logs, 4)
	sections := map[Section]bool{}
	for _, log := range repo.logs {
		sections[log.Section] = true
	}
	assert.True(t, sections[SectionAllocation])
	assert.True(t, sections[SectionBalances])
	assert.True(t, sections[SectionIntegrity])
	assert.True(t, sections[SectionCleanup])

	// lock released after the run
	_, err := redislock.New(client).Obtain(ctx, lockKey, time.Minute, nil)
	assert.NoError(t, err)
}
