package installments

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

// Handler exposes installment plan management over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers plan routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
}

type createPlanRequest struct {
	InvoiceID int64      `json:"invoiceId" validate:"required,gt=0"`
	Count     int        `json:"count" validate:"required,gt=0,lte=60"`
	FirstDue  *time.Time `json:"firstDueDate"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Organization", "organization scope required")
		return
	}
	var req createPlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}

	in := CreatePlanInput{OrgID: orgID, InvoiceID: req.InvoiceID, Count: req.Count}
	if req.FirstDue != nil {
		in.FirstDue = *req.FirstDue
	}
	plan, err := h.service.CreatePlan(r.Context(), in)
	if err != nil {
		h.logger.Warn("create installment plan", slog.Int64("invoice_id", req.InvoiceID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "plan id must be a positive integer")
		return
	}
	plan, err := h.service.GetPlan(r.Context(), orgID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}
