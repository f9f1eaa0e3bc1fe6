package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/keyserver/internal/api/middleware"
	"github.com/kiranshivaraju/keyserver/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	// AdminAuth gates the /api/licenses routes. Nil refuses every admin request.
	AdminAuth *mw.AdminAuth

	HealthHandler   http.HandlerFunc
	MetricsHandler  http.Handler
	ValidateHandler http.HandlerFunc

	CreateLicense   http.HandlerFunc
	ListLicenses    http.HandlerFunc
	GetLicense      http.HandlerFunc
	RevokeLicense   http.HandlerFunc
	ActivateLicense http.HandlerFunc
	DeleteLicense   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/api/health", orNotImplemented(deps.HealthHandler))
	r.Post("/api/validate", orNotImplemented(deps.ValidateHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Admin routes
	r.Route("/api/licenses", func(r chi.Router) {
		r.Use(deps.AdminAuth.Require)

		r.Post("/", orNotImplemented(deps.CreateLicense))
		r.Get("/", orNotImplemented(deps.ListLicenses))
		r.Get("/{key}", orNotImplemented(deps.GetLicense))
		r.Post("/{key}/revoke", orNotImplemented(deps.RevokeLicense))
		r.Post("/{key}/activate", orNotImplemented(deps.ActivateLicense))
		r.Delete("/{key}", orNotImplemented(deps.DeleteLicense))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
