package app

import (
	"context"
	"log/slog"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/manish5476/apex/internal/installments"
	"github.com/manish5476/apex/internal/invoicing"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/notify"
	"github.com/manish5476/apex/internal/observability"
	"github.com/manish5476/apex/internal/payments"
	"github.com/manish5476/apex/internal/recon"
	"github.com/manish5476/apex/internal/stock"
)

// Services bundles the wired application services shared by the HTTP server
// and the background worker.
type Services struct {
	Ledger       *ledger.Service
	Stock        *stock.Service
	Invoicing    *invoicing.Service
	Installments *installments.Service
	Payments     *payments.Service
	Notify       *notify.Service
	Sweeper      *recon.Sweeper
}

// BuildServices wires repositories and services over the shared pool and
// redis client. rdb and metrics may be nil; the affected services degrade
// gracefully.
func BuildServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metrics *observability.Metrics) *Services {
	notifySvc := notify.NewService(rdb, notify.NewStore(pool), logger)

	invoiceSvc := invoicing.NewService(invoicing.NewRepository(pool), notifySvc, logger, cfg.InvoiceRetryAttempts)
	if metrics != nil {
		invoiceSvc.WithRetryHook(func() { metrics.InvoiceRetries.Inc() })
	}

	installmentRepo := installments.NewRepository(pool)
	installmentSvc := installments.NewService(installmentRepo, invoiceInfoAdapter{invoiceSvc}, logger)

	paymentSvc := payments.NewService(payments.NewRepository(pool), installmentRepo, logger)

	var locker recon.Locker
	if rdb != nil {
		locker = redislock.New(rdb)
	}
	sweeper := recon.NewSweeper(recon.Config{
		StaleAfter:      cfg.SweepStaleAfter,
		BatchSize:       cfg.SweepBatchSize,
		Tolerance:       cfg.SweepTolerance,
		ReviewRetention: cfg.SweepReviewRetention,
		LogRetention:    cfg.SweepLogRetention,
		LockTTL:         cfg.SweepLockTTL,
	}, recon.NewRepository(pool), paymentSvc, ledger.NewRepository(pool), locker, metrics, logger)

	return &Services{
		Ledger:       ledger.NewServiceFromPool(pool),
		Stock:        stock.NewService(stock.NewRepository(pool)),
		Invoicing:    invoiceSvc,
		Installments: installmentSvc,
		Payments:     paymentSvc,
		Notify:       notifySvc,
		Sweeper:      sweeper,
	}
}

// invoiceInfoAdapter exposes invoice reads to the installment manager.
type invoiceInfoAdapter struct {
	svc *invoicing.Service
}

func (a invoiceInfoAdapter) GetInvoiceInfo(ctx context.Context, orgID, invoiceID int64) (installments.InvoiceInfo, error) {
	inv, err := a.svc.Get(ctx, orgID, invoiceID)
	if err != nil {
		return installments.InvoiceInfo{}, err
	}
	return installments.InvoiceInfo{
		ID:            inv.ID,
		CustomerID:    inv.CustomerID,
		BalanceAmount: inv.BalanceAmount,
	}, nil
}
