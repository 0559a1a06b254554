package stock

import (
	"context"
	"time"

	"github.com/manish5476/apex/internal/ledger"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service coordinates non-sale stock movements. Sale decrements run inside
// the invoice workflow's transaction via TxStock.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Adjust adds or subtracts stock for loss/gain/count corrections and posts
// the matching ledger pair valued at quantity times current purchase price.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) error {
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	date := s.now().UTC()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProduct(ctx, in.OrgID, in.ProductID)
		if err != nil {
			return err
		}
		switch in.Direction {
		case AdjustAdd:
			if err := tx.Increment(ctx, in.OrgID, in.ProductID, in.BranchID, in.Qty); err != nil {
				return err
			}
		default:
			if err := tx.DecrementForSale(ctx, in.OrgID, in.ProductID, in.BranchID, in.Qty); err != nil {
				return err
			}
		}
		adjustmentID, err := tx.InsertAdjustment(ctx, in)
		if err != nil {
			return err
		}
		value := ledger.Round2(in.Qty * product.PurchasePrice)
		if value == 0 {
			return nil
		}
		lg := tx.Ledger()
		invName, invType := ledger.AccountDefaults(ledger.CodeInventoryAsset)
		inventory, err := lg.GetOrCreateAccount(ctx, in.OrgID, ledger.CodeInventoryAsset, invName, invType)
		if err != nil {
			return err
		}
		var counterCode string
		if in.Direction == AdjustAdd {
			counterCode = ledger.CodeStockGain
		} else {
			counterCode = ledger.CodeStockShrinkage
		}
		ctrName, ctrType := ledger.AccountDefaults(counterCode)
		counter, err := lg.GetOrCreateAccount(ctx, in.OrgID, counterCode, ctrName, ctrType)
		if err != nil {
			return err
		}
		branchID := in.BranchID
		entries := []ledger.Entry{
			{OrgID: in.OrgID, BranchID: &branchID, AccountID: inventory.ID, Date: date, RefType: ledger.RefAdjustment, RefID: adjustmentID, Description: in.Reason},
			{OrgID: in.OrgID, BranchID: &branchID, AccountID: counter.ID, Date: date, RefType: ledger.RefAdjustment, RefID: adjustmentID, Description: in.Reason},
		}
		if in.Direction == AdjustAdd {
			entries[0].Debit = value
			entries[1].Credit = value
		} else {
			entries[0].Credit = value
			entries[1].Debit = value
		}
		return lg.InsertEntries(ctx, entries)
	})
}

// Transfer moves stock between branches. Internal movement, no ledger impact.
func (s *Service) Transfer(ctx context.Context, in TransferInput) error {
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if in.FromBranch == in.ToBranch {
		return ErrSameBranch
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProduct(ctx, in.OrgID, in.ProductID); err != nil {
			return err
		}
		if err := tx.DecrementForSale(ctx, in.OrgID, in.ProductID, in.FromBranch, in.Qty); err != nil {
			return err
		}
		return tx.Increment(ctx, in.OrgID, in.ProductID, in.ToBranch, in.Qty)
	})
}
