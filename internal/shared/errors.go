package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed request rejected at the boundary.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a sale exceeds available branch stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverpayment indicates an allocation exceeding the payment amount.
	ErrOverpayment = errors.New("allocation exceeds payment amount")
	// ErrAlreadyPaid indicates a payment against a settled document.
	ErrAlreadyPaid = errors.New("document already paid")
	// ErrTransientConflict indicates concurrent-update contention worth retrying.
	ErrTransientConflict = errors.New("transient conflict")
	// ErrIntegrityViolation indicates organization debits != credits.
	ErrIntegrityViolation = errors.New("ledger integrity violation")
)

// Postgres error codes treated as retryable contention.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsTransient reports whether err is contention that a bounded retry may clear.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
