package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bsm/redislock"

	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/observability"
	"github.com/manish5476/apex/internal/payments"
)

// lockKey guards against concurrent sweep instances across processes.
const lockKey = "apex:recon:sweep"

// ErrUnknownSection is returned for a manual trigger naming no section.
var ErrUnknownSection = errors.New("recon: unknown sweep section")

// PaymentsPort is the slice of the payment engine the sweep drives.
type PaymentsPort interface {
	StaleUnallocated(ctx context.Context, olderThan time.Time, batch int) ([]payments.Payment, error)
	Allocate(ctx context.Context, orgID, paymentID int64) (payments.Payment, error)
	NoteFailure(ctx context.Context, orgID, paymentID int64) (bool, error)
	RetireManualReview(ctx context.Context, before time.Time) (int64, error)
}

// LedgerPort supplies organization-wide posted totals.
type LedgerPort interface {
	ListOrgIDs(ctx context.Context) ([]int64, error)
	TrialBalance(ctx context.Context, orgID int64) (ledger.TrialBalance, error)
}

// RepositoryPort abstracts sweep persistence.
type RepositoryPort interface {
	RecomputeOutstanding(ctx context.Context, tolerance float64) (int64, error)
	InsertRunLog(ctx context.Context, log *RunLog) error
	PurgeRunLogs(ctx context.Context, before time.Time) (int64, error)
}

// Locker serialises sweeps across instances. *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Sweeper repairs drift between cached aggregates and ledger truth.
type Sweeper struct {
	cfg      Config
	repo     RepositoryPort
	payments PaymentsPort
	ledger   LedgerPort
	locker   Locker
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper builds Sweeper. locker and metrics may be nil.
func NewSweeper(cfg Config, repo RepositoryPort, pay PaymentsPort, led LedgerPort,
	locker Locker, metrics *observability.Metrics, logger *slog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:      cfg,
		repo:     repo,
		payments: pay,
		ledger:   led,
		locker:   locker,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Sweeper) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Run executes every section in order under the cross-instance lock.
func (s *Sweeper) Run(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		var errs []error
		for _, section := range []Section{SectionAllocation, SectionBalances, SectionIntegrity, SectionCleanup} {
			if err := s.runSection(ctx, section); err != nil {
				s.logger.Error("sweep section failed",
					slog.String("section", string(section)), slog.Any("error", err))
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// RunSection executes one named section under the same cross-instance lock
// as the full sweep. Used by the scheduler and the manual trigger.
func (s *Sweeper) RunSection(ctx context.Context, section Section) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		return s.runSection(ctx, section)
	})
}

// withLock serialises sweep work across instances. A held lock means another
// instance is sweeping; the work is skipped, not queued.
func (s *Sweeper) withLock(ctx context.Context, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	lock, err := s.locker.Obtain(ctx, lockKey, s.cfg.LockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		s.logger.Info("reconciliation sweep already running elsewhere, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("recon: obtain sweep lock: %w", err)
	}
	defer func() { _ = lock.Release(ctx) }()
	return fn(ctx)
}

func (s *Sweeper) runSection(ctx context.Context, section Section) error {
	started := s.now().UTC()
	var processed, failed int64
	var detail string
	var err error

	switch section {
	case SectionAllocation:
		processed, failed, err = s.allocationCatchUp(ctx)
	case SectionBalances:
		processed, err = s.balanceRecompute(ctx)
	case SectionIntegrity:
		var violations []Violation
		violations, err = s.IntegrityCheck(ctx)
		failed = int64(len(violations))
	case SectionCleanup:
		processed, err = s.cleanup(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSection, section)
	}

	if err != nil {
		detail = err.Error()
	}
	if s.metrics != nil {
		s.metrics.SweepRuns.WithLabelValues(string(section)).Inc()
	}
	log := RunLog{
		Section:   section,
		StartedAt: started,
		EndedAt:   s.now().UTC(),
		Processed: processed,
		Failed:    failed,
		Detail:    detail,
	}
	if logErr := s.repo.InsertRunLog(ctx, &log); logErr != nil {
		s.logger.Warn("sweep run log not recorded",
			slog.String("section", string(section)), slog.Any("error", logErr))
	}
	return err
}

// allocationCatchUp re-runs the waterfall for stale unallocated payments.
// Failures are counted per payment, never fail the batch, and escalate to
// manual review after repeated occurrences.
func (s *Sweeper) allocationCatchUp(ctx context.Context) (processed, failed int64, err error) {
	cutoff := s.now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.payments.StaleUnallocated(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range stale {
		if _, allocErr := s.payments.Allocate(ctx, p.OrgID, p.ID); allocErr != nil {
			failed++
			if s.metrics != nil {
				s.metrics.AllocationFailures.Inc()
			}
			parked, noteErr := s.payments.NoteFailure(ctx, p.OrgID, p.ID)
			if noteErr != nil {
				s.logger.Error("allocation failure not recorded",
					slog.Int64("payment_id", p.ID), slog.Any("error", noteErr))
			}
			s.logger.Warn("stale payment allocation failed",
				slog.Int64("payment_id", p.ID),
				slog.Int64("org_id", p.OrgID),
				slog.Bool("parked_for_review", parked),
				slog.Any("error", allocErr))
			continue
		}
		processed++
	}
	return processed, failed, nil
}

// balanceRecompute corrects cached customer balances against invoice truth.
func (s *Sweeper) balanceRecompute(ctx context.Context) (int64, error) {
	corrected, err := s.repo.RecomputeOutstanding(ctx, s.cfg.Tolerance)
	if err != nil {
		return 0, err
	}
	if corrected > 0 {
		s.logger.Warn("customer balances drifted from invoice truth",
			slog.Int64("corrected", corrected))
	}
	return corrected, nil
}

// IntegrityCheck verifies debit=credit per organization. Violations are
// raised as critical alerts, never auto-corrected.
func (s *Sweeper) IntegrityCheck(ctx context.Context) ([]Violation, error) {
	orgs, err := s.ledger.ListOrgIDs(ctx)
	if err != nil {
		return nil, err
	}
	var violations []Violation
	for _, orgID := range orgs {
		tb, err := s.ledger.TrialBalance(ctx, orgID)
		if err != nil {
			return violations, err
		}
		diff := tb.Diff()
		if diff <= s.cfg.Tolerance {
			continue
		}
		violations = append(violations, Violation{
			OrgID:       orgID,
			TotalDebit:  tb.TotalDebit,
			TotalCredit: tb.TotalCredit,
			Diff:        diff,
		})
		if s.metrics != nil {
			s.metrics.IntegrityViolations.WithLabelValues(strconv.FormatInt(orgID, 10)).Inc()
		}
		s.logger.Error("CRITICAL: ledger out of balance",
			slog.Int64("org_id", orgID),
			slog.Float64("total_debit", tb.TotalDebit),
			slog.Float64("total_credit", tb.TotalCredit),
			slog.Float64("diff", diff))
	}
	return violations, nil
}

// cleanup retires aged manual-review payments and purges old run logs.
func (s *Sweeper) cleanup(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	retired, err := s.payments.RetireManualReview(ctx, now.Add(-s.cfg.ReviewRetention))
	if err != nil {
		return 0, err
	}
	purged, err := s.repo.PurgeRunLogs(ctx, now.Add(-s.cfg.LogRetention))
	if err != nil {
		return retired, err
	}
	return retired + purged, nil
}
