package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/manish5476/apex/internal/installments"
	"github.com/manish5476/apex/internal/invoicing"
	"github.com/manish5476/apex/internal/ledger"
	"github.com/manish5476/apex/internal/observability"
	"github.com/manish5476/apex/internal/payments"
	"github.com/manish5476/apex/internal/stock"
	"github.com/manish5476/apex/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	InvoiceHandler      *invoicing.Handler
	PaymentHandler      *payments.Handler
	InstallmentHandler  *installments.Handler
	StockHandler        *stock.Handler
	LedgerHandler       *ledger.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.InvoiceHandler != nil {
			api.Route("/invoices", params.InvoiceHandler.MountRoutes)
		}
		if params.PaymentHandler != nil {
			api.Route("/payments", params.PaymentHandler.MountRoutes)
		}
		if params.InstallmentHandler != nil {
			api.Route("/installment-plans", params.InstallmentHandler.MountRoutes)
		}
		if params.StockHandler != nil {
			api.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			api.Route("/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
