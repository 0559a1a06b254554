package payments

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/manish5476/apex/internal/platform/httpx"
	"github.com/manish5476/apex/internal/shared"
)

// Handler exposes payment recording and allocation over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers payment routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/allocate", h.allocate)
	r.Post("/{id}/allocations", h.allocateManual)
}

type createPaymentRequest struct {
	CustomerID      int64   `json:"customerId" validate:"omitempty,gt=0"`
	InvoiceID       *int64  `json:"invoiceId" validate:"omitempty,gt=0"`
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	PaymentMethod   string  `json:"paymentMethod" validate:"required"`
	ReferenceNumber string  `json:"referenceNumber"`
	TransactionID   string  `json:"transactionId"`
	Notes           string  `json:"notes"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Organization", "organization scope required")
		return
	}
	var req createPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}

	payment, err := h.service.Create(r.Context(), CreateInput{
		OrgID:           orgID,
		CustomerID:      req.CustomerID,
		InvoiceID:       req.InvoiceID,
		Amount:          req.Amount,
		Method:          req.PaymentMethod,
		ReferenceNumber: req.ReferenceNumber,
		TransactionID:   req.TransactionID,
		Notes:           req.Notes,
	})
	if err != nil {
		h.logger.Warn("create payment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{
		AllocationStatus: AllocationStatus(q.Get("allocationStatus")),
		Status:           PaymentStatus(q.Get("status")),
	}
	filter.CustomerID, _ = strconv.ParseInt(q.Get("customerId"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	out, err := h.service.List(r.Context(), orgID, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.Allocate(r.Context(), orgID, id)
	if err != nil {
		h.logger.Warn("allocate payment", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

type manualLineRequest struct {
	Type       string  `json:"type" validate:"required,oneof=advance invoice emi"`
	DocumentID int64   `json:"documentId" validate:"omitempty,gt=0"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
}

type manualAllocationRequest struct {
	Lines []manualLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) allocateManual(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	var req manualAllocationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}
	lines := make([]ManualLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, ManualLine{Type: AllocationType(l.Type), DocumentID: l.DocumentID, Amount: l.Amount})
	}

	payment, err := h.service.AllocateManual(r.Context(), orgID, id, lines)
	if err != nil {
		h.logger.Warn("manual allocation", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) paymentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be a positive integer")
		return 0, false
	}
	return id, true
}
