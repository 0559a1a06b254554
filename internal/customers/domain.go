package customers

import "time"

// Customer carries the cached balance aggregates. OutstandingBalance and
// AdvanceBalance are denormalized projections; the reconciliation sweep is
// the source-of-truth corrector.
type Customer struct {
	ID                 int64
	OrgID              int64
	Name               string
	OutstandingBalance float64
	AdvanceBalance     float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
