package recon

import (
	"time"
)

// Section names one sweep stage. Sections run independently and are also
// addressable by name for manual triggering.
type Section string

const (
	SectionAllocation Section = "allocation_catch_up"
	SectionBalances   Section = "balance_recompute"
	SectionIntegrity  Section = "integrity_check"
	SectionCleanup    Section = "cleanup"
)

// RunLog is one persisted sweep-section execution record.
type RunLog struct {
	ID        int64
	Section   Section
	StartedAt time.Time
	EndedAt   time.Time
	Processed int64
	Failed    int64
	Detail    string
}

// Violation is one organization whose ledger debits and credits diverge.
// Never auto-corrected; a structural posting bug needs a human.
type Violation struct {
	OrgID       int64   `json:"organizationId"`
	TotalDebit  float64 `json:"totalDebit"`
	TotalCredit float64 `json:"totalCredit"`
	Diff        float64 `json:"diff"`
}

// Config tunes the sweep.
type Config struct {
	// StaleAfter is how old an unallocated payment must be before the
	// catch-up picks it up.
	StaleAfter time.Duration
	// BatchSize bounds payments processed per catch-up run.
	BatchSize int
	// Tolerance is the rounding slack for balance comparisons.
	Tolerance float64
	// ReviewRetention is how long manual-review payments stay open.
	ReviewRetention time.Duration
	// LogRetention is how long sweep run logs are kept.
	LogRetention time.Duration
	// LockTTL bounds how long one sweep may hold the cross-instance lock.
	LockTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StaleAfter:      15 * time.Minute,
		BatchSize:       50,
		Tolerance:       0.01,
		ReviewRetention: 90 * 24 * time.Hour,
		LogRetention:    30 * 24 * time.Hour,
		LockTTL:         5 * time.Minute,
	}
}
