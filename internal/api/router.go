package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiranshivaraju/motiontrack/internal/api/handler"
	mw "github.com/kiranshivaraju/motiontrack/internal/api/middleware"
	"github.com/kiranshivaraju/motiontrack/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	Jobs          *handler.Jobs
	Media         *handler.Media
	Metrics       http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		if j := deps.Jobs; j != nil {
			r.Get("/api/v1/jobs", j.List)
			r.Post("/api/v1/jobs", j.Submit)
			r.Delete("/api/v1/jobs", j.Clear)
			r.Get("/api/v1/jobs/{jobID}", j.Get)
			r.Delete("/api/v1/jobs/{jobID}", j.Delete)
			r.Post("/api/v1/jobs/{jobID}/retry", j.Retry)
			r.Get("/api/v1/jobs/{jobID}/events", j.Events)
		}

		if m := deps.Media; m != nil {
			r.Get("/api/v1/sessions", m.List)
			r.Get("/api/v1/sessions/{sessionID}/media", m.Resolve)
			r.Get("/api/v1/sessions/{sessionID}/analytics", m.Analytics)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
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
