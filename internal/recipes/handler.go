package recipes

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/craftline-mfg/craftline/internal/platform/httpx"
)

// Handler wires HTTP endpoints for recipes.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the recipes handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers recipe routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.upsert)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.upsert)
	r.Delete("/{id}", h.delete)
}

type lineRequest struct {
	MaterialID int64   `json:"material_id" validate:"required"`
	QtyPerUnit float64 `json:"qty_per_unit" validate:"gt=0"`
}

type upsertRequest struct {
	ProductName string        `json:"product_name" validate:"required"`
	ProductSKU  string        `json:"product_sku"`
	Notes       string        `json:"notes"`
	Lines       []lineRequest `json:"lines" validate:"dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	boms, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list recipes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, boms)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	bom, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bom)
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	bom := BOM{ProductName: req.ProductName, ProductSKU: req.ProductSKU, Notes: req.Notes}
	if raw := chi.URLParam(r, "id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid recipe id")
			return
		}
		bom.ID = id
	}
	for _, line := range req.Lines {
		bom.Lines = append(bom.Lines, Line{MaterialID: line.MaterialID, QtyPerUnit: line.QtyPerUnit})
	}
	saved, err := h.service.Upsert(r.Context(), bom)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if bom.ID == 0 {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, saved)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid recipe id")
		return 0, false
	}
	return id, true
}
