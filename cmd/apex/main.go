package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/manish5476/apex/internal/app"
	"github.com/manish5476/apex/internal/installments"
	"github.com/manish5476/apex/internal/invoicing"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/observability"
	"github.com/manish5476/apex/internal/payments"
	"github.com/manish5476/apex/internal/platform/db"
	"github.com/manish5476/apex/internal/stock"
	"github.com/manish5476/apex/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()
	services := app.BuildServices(cfg, logger, pool, rdb, metrics)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = jobsClient.Close() }()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InvoiceHandler:     invoicing.NewHandler(logger, services.Invoicing),
		PaymentHandler:     payments.NewHandler(logger, services.Payments),
		InstallmentHandler: installments.NewHandler(logger, services.Installments),
		StockHandler:       stock.NewHandler(logger, services.Stock),
		LedgerHandler:      ledger.NewHandler(logger, services.Ledger),
		JobHandler:         jobs.NewHandler(inspector, jobsClient, logger),
		Metrics:            metrics,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
