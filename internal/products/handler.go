package products

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/craftline-mfg/craftline/internal/platform/httpx"
)

// Handler wires HTTP endpoints for finished products.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the products handler.
func NewHandler(logger *slog.Logger, repo *Repository, service *Service) *Handler {
	return &Handler{logger: logger, repo: repo, service: service, validate: validator.New()}
}

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/deletion-impact", h.deletionImpact)
	r.Post("/{id}/delete", h.executeDeletion)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.repo.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) deletionImpact(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.repo.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	impact, err := h.service.Analyze(r.Context(), p)
	if err != nil {
		h.logger.Error("analyze deletion", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, impact)
}

type deleteRequest struct {
	Quantity             float64 `json:"quantity" validate:"gte=0"`
	ForceDelete          bool    `json:"force_delete"`
	Acknowledged         bool    `json:"acknowledged"`
	CancelActiveOrders   bool    `json:"cancel_active_orders"`
	CompleteActiveOrders bool    `json:"complete_active_orders"`
	ReturnMaterials      bool    `json:"return_materials"`
}

func (h *Handler) executeDeletion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	opts := DeleteOptions{
		ForceDelete:          req.ForceDelete,
		Acknowledged:         req.Acknowledged,
		CancelActiveOrders:   req.CancelActiveOrders,
		CompleteActiveOrders: req.CompleteActiveOrders,
		ReturnMaterials:      req.ReturnMaterials,
	}
	result, err := h.service.ExecuteDeletion(r.Context(), id, opts, req.Quantity)
	if err != nil {
		if errors.Is(err, ErrDeletionBlocked) {
			httpx.Problem(w, http.StatusConflict, "Deletion Blocked", err.Error())
			return
		}
		h.logger.Error("execute deletion", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return 0, false
	}
	return id, true
}
