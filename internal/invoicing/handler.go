package invoicing

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

// Handler exposes the invoice workflow over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers invoice routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
}

type itemRequest struct {
	ProductID int64   `json:"productId" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
	Tax       float64 `json:"tax" validate:"gte=0"`
	Discount  float64 `json:"discount" validate:"gte=0"`
}

type createInvoiceRequest struct {
	CustomerID int64         `json:"customerId" validate:"required,gt=0"`
	BranchID   int64         `json:"branchId" validate:"required,gt=0"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
	PaidAmount float64       `json:"paidAmount" validate:"gte=0"`
	Status     string        `json:"status" validate:"omitempty,oneof=DRAFT SENT"`
	DueDate    *time.Time    `json:"dueDate"`
	Notes      string        `json:"notes"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Organization", "organization scope required")
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}

	input := CreateInput{
		OrgID:      orgID,
		CustomerID: req.CustomerID,
		BranchID:   req.BranchID,
		PaidAmount: req.PaidAmount,
		Status:     Status(req.Status),
		DueDate:    req.DueDate,
		Notes:      req.Notes,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Tax:       item.Tax,
			Discount:  item.Discount,
		})
	}

	invoice, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Warn("create invoice", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be a positive integer")
		return
	}
	invoice, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}
