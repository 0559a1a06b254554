package stock

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/manish5476/apex/internal/platform/httpx"
	"github.com/manish5476/apex/internal/shared"
)

// Handler exposes stock adjustment and transfer over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjust", h.adjust)
	r.Post("/transfer", h.transfer)
}

type adjustRequest struct {
	ProductID int64   `json:"productId" validate:"required,gt=0"`
	BranchID  int64   `json:"branchId" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Type      string  `json:"type" validate:"required,oneof=ADD SUBTRACT"`
	Reason    string  `json:"reason" validate:"required"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Organization", "organization scope required")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}

	err := h.service.Adjust(r.Context(), AdjustInput{
		OrgID:     orgID,
		ProductID: req.ProductID,
		BranchID:  req.BranchID,
		Qty:       req.Quantity,
		Direction: AdjustDirection(req.Type),
		Reason:    req.Reason,
	})
	if err != nil {
		h.logger.Warn("stock adjustment", slog.Int64("product_id", req.ProductID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "adjusted"})
}

type transferRequest struct {
	ProductID  int64   `json:"productId" validate:"required,gt=0"`
	FromBranch int64   `json:"fromBranch" validate:"required,gt=0"`
	ToBranch   int64   `json:"toBranch" validate:"required,gt=0"`
	Quantity   float64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	orgID := shared.OrgFromContext(r.Context())
	if orgID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Organization", "organization scope required")
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%s: %w", err.Error(), shared.ErrValidation))
		return
	}

	err := h.service.Transfer(r.Context(), TransferInput{
		OrgID:      orgID,
		ProductID:  req.ProductID,
		FromBranch: req.FromBranch,
		ToBranch:   req.ToBranch,
		Qty:        req.Quantity,
	})
	if err != nil {
		h.logger.Warn("stock transfer", slog.Int64("product_id", req.ProductID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}
