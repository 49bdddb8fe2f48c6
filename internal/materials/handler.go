package materials

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/craftline-mfg/craftline/internal/ledger"
	"github.com/craftline-mfg/craftline/internal/platform/httpx"
)

// HistoryReader lists stock movements for a material.
type HistoryReader interface {
	ListHistory(ctx context.Context, ref ledger.Ref, limit int) ([]ledger.Entry, error)
}

// Handler wires HTTP endpoints for material reads.
type Handler struct {
	logger  *slog.Logger
	repo    *Repository
	history HistoryReader
}

// NewHandler constructs the materials handler.
func NewHandler(logger *slog.Logger, repo *Repository, history HistoryReader) *Handler {
	return &Handler{logger: logger, repo: repo, history: history}
}

// MountRoutes registers material routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/low-stock", h.lowStock)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.stockHistory)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list materials", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	m, err := h.repo.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := 0.0
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid threshold")
			return
		}
		threshold = v
	}
	items, err := h.repo.ListLowStock(r.Context(), threshold)
	if err != nil {
		h.logger.Error("list low stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) stockHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	entries, err := h.history.ListHistory(r.Context(), ledger.Ref{Kind: ledger.KindMaterial, ID: id}, limit)
	if err != nil {
		h.logger.Error("list stock history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
