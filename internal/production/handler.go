package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/craftline-mfg/craftline/internal/platform/httpx"
)

// Handler wires HTTP endpoints for production orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/sync", h.sync)
	r.Get("/{id}", h.get)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/status", h.transition)
}

type costLineRequest struct {
	Label  string          `json:"label" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type createRequest struct {
	RecipeID        int64             `json:"recipe_id" validate:"required"`
	Qty             float64           `json:"qty" validate:"gt=0"`
	AdditionalCosts []costLineRequest `json:"additional_costs" validate:"dive"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := AddOrderInput{RecipeID: req.RecipeID, Qty: req.Qty}
	for _, line := range req.AdditionalCosts {
		input.AdditionalCosts = append(input.AdditionalCosts, CostLine{Label: line.Label, Amount: line.Amount})
	}
	order, err := h.service.AddOrder(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	evt, err := h.service.CompleteOrder(r.Context(), id)
	if err != nil {
		h.respondCompletionError(w, id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"order_id": evt.OrderID,
		"sku":      evt.ProductSKU,
		"summary":  evt.Summary(),
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.TransitionStatus(r.Context(), id, Status(req.Status)); err != nil {
		h.respondCompletionError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SyncCompletedOrders(r.Context())
	if err != nil {
		if errors.Is(err, ErrSyncRunning) {
			httpx.Problem(w, http.StatusConflict, "Sync Running", err.Error())
			return
		}
		h.logger.Error("sync completed orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) respondCompletionError(w http.ResponseWriter, orderID int64, err error) {
	var insufficient *InsufficientStockError
	var rollback *RollbackError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficient.Error())
	case errors.As(err, &rollback):
		h.logger.Error("completion rollback failed",
			slog.Int64("order_id", orderID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Inventory Inconsistent", rollback.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return 0, false
	}
	return id, true
}
