package stock

import (
	"fmt"
	"time"

	"github.com/manish5476/apex/internal/shared"
)

// AdjustDirection enumerates non-sale stock movements.
type AdjustDirection string

const (
	AdjustAdd      AdjustDirection = "ADD"
	AdjustSubtract AdjustDirection = "SUBTRACT"
)

// Product carries the pricing attributes the guard needs for valuation.
type Product struct {
	ID            int64
	OrgID         int64
	Name          string
	SellingPrice  float64
	PurchasePrice float64
}

// Level is one per-branch stock line. Quantity never goes negative; the
// repository enforces it with a conditional update rather than a lock.
type Level struct {
	ProductID    int64
	BranchID     int64
	Quantity     float64
	ReorderLevel float64
	UpdatedAt    time.Time
}

// AdjustInput describes a loss/gain/count correction.
type AdjustInput struct {
	OrgID     int64
	ProductID int64
	BranchID  int64
	Qty       float64
	Direction AdjustDirection
	Reason    string
}

// TransferInput describes a branch-to-branch movement.
type TransferInput struct {
	OrgID      int64
	ProductID  int64
	FromBranch int64
	ToBranch   int64
	Qty        float64
}

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = fmt.Errorf("stock: quantity must be positive: %w", shared.ErrValidation)

// ErrSameBranch indicates a transfer with identical endpoints.
var ErrSameBranch = fmt.Errorf("stock: source and destination branch must differ: %w", shared.ErrValidation)
