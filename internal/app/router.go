package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/craftline-mfg/craftline/internal/materials"
	"github.com/craftline-mfg/craftline/internal/observability"
	"github.com/craftline-mfg/craftline/internal/production"
	"github.com/craftline-mfg/craftline/internal/products"
	"github.com/craftline-mfg/craftline/internal/recipes"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	MaterialsHandler  *materials.Handler
	RecipesHandler    *recipes.Handler
	ProductionHandler *production.Handler
	ProductsHandler   *products.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Craftline defaults.
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

	r.Route("/api/v1", func(r chi.Router) {
		if params.MaterialsHandler != nil {
			r.Route("/materials", params.MaterialsHandler.MountRoutes)
		}
		if params.RecipesHandler != nil {
			r.Route("/recipes", params.RecipesHandler.MountRoutes)
		}
		if params.ProductionHandler != nil {
			r.Route("/orders", params.ProductionHandler.MountRoutes)
		}
		if params.ProductsHandler != nil {
			r.Route("/products", params.ProductsHandler.MountRoutes)
		}
	})

	return r
}
