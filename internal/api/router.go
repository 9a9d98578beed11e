package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/whisperd/internal/api/middleware"
	"github.com/kiranshivaraju/whisperd/internal/api/response"
	"github.com/kiranshivaraju/whisperd/internal/code"
)

// Prefix is the mount point of every route.
const Prefix = "/whisper/v1"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	OverviewHandler http.HandlerFunc
	HealthHandler   http.HandlerFunc
	RunHandler      http.HandlerFunc
	URIHandler      http.HandlerFunc
	BytesHandler    http.HandlerFunc
	ResultHandler   http.HandlerFunc
	DownloadHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Route(Prefix, func(r chi.Router) {
		// Public
		r.Get("/", orNotImplemented(deps.OverviewHandler))
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)
			r.Use(deps.RateLimit.Limit)

			r.Post("/run", orNotImplemented(deps.RunHandler))
			r.Post("/uri", orNotImplemented(deps.URIHandler))
			r.Post("/bytes", orNotImplemented(deps.BytesHandler))
			r.Get("/result/{contentID}", orNotImplemented(deps.ResultHandler))
			r.Get("/download", orNotImplemented(deps.DownloadHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a TaskNotSupported
// placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, code.TaskNotSupported, "Endpoint not yet implemented")
	}
}
