package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/manish5476/apex/internal/platform/httpx"
	"github.com/manish5476/apex/internal/shared"
)

// Handler exposes accounting reads and manual journal posting over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Get("/trial-balance", h.trialBalance)
	r.Post("/journals", h.postJournal)
	r.Post("/invoices/{id}/reverse", h.reverseInvoice)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	accounts, err := h.service.ListAccounts(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	tb, err := h.service.TrialBalance(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"organizationId": tb.OrgID,
		"totalDebit":     tb.TotalDebit,
		"totalCredit":    tb.TotalCredit,
		"diff":           tb.Diff(),
		"balanced":       tb.Diff() < 0.01,
	})
}

type journalLineRequest struct {
	AccountID int64   `json:"accountId" validate:"required,gt=0"`
	Debit     float64 `json:"debit" validate:"gte=0"`
	Credit    float64 `json:"credit" validate:"gte=0"`
}

type postJournalRequest struct {
	BranchID    *int64               `json:"branchId"`
	Date        *time.Time           `json:"date"`
	RefID       int64                `json:"referenceId"`
	Description string               `json:"description"`
	Lines       []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Organization", "organization scope required")
		return
	}
	var req postJournalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}

	in := PostingInput{
		OrgID:       orgID,
		BranchID:    req.BranchID,
		RefID:       req.RefID,
		Description: req.Description,
	}
	if req.Date != nil {
		in.Date = *req.Date
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, PostingLine{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}

	if err := h.service.PostJournal(r.Context(), in); err != nil {
		h.logger.Warn("manual journal posting", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "posted"})
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) reverseInvoice(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be a positive integer")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}

	if err := h.service.ReverseInvoice(r.Context(), orgID, id, req.Reason); err != nil {
		h.logger.Warn("invoice reversal", slog.Int64("invoice_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "reversed"})
}
