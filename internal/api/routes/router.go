package routes

import (
	"net/http"

	"github.com/zatekoja/diagnosticpricesearch/internal/api/handlers"
	"github.com/zatekoja/diagnosticpricesearch/internal/api/middleware"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	priceListHandler *handlers.PriceListHandler
	sessionHandler   *handlers.SessionHandler
	sseHandler       *handlers.SSEHandler

	cacheMiddleware *middleware.CacheMiddleware
	allowedOrigins  []string
	metrics         *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	priceListHandler *handlers.PriceListHandler,
	sessionHandler *handlers.SessionHandler,
	sseHandler *handlers.SSEHandler,
	cacheMiddleware *middleware.CacheMiddleware,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:              http.NewServeMux(),
		priceListHandler: priceListHandler,
		sessionHandler:   sessionHandler,
		sseHandler:       sseHandler,
		cacheMiddleware:  cacheMiddleware,
		allowedOrigins:   allowedOrigins,
		metrics:          metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Price list endpoints
	r.mux.HandleFunc("GET /api/branches", r.priceListHandler.ListBranches)
	r.mux.HandleFunc("GET /api/branches/{id}/services", r.priceListHandler.GetServices)
	r.mux.HandleFunc("GET /api/branches/{id}/services/all", r.priceListHandler.GetAllServices)

	// Search sessions, one per UI
	r.mux.HandleFunc("POST /api/sessions", r.sessionHandler.CreateSession)
	r.mux.HandleFunc("GET /api/sessions/{id}", r.sessionHandler.GetSession)
	r.mux.HandleFunc("DELETE /api/sessions/{id}", r.sessionHandler.DeleteSession)
	r.mux.HandleFunc("POST /api/sessions/{id}/branch", r.sessionHandler.SelectBranch)
	r.mux.HandleFunc("PUT /api/sessions/{id}/search", r.sessionHandler.SetSearch)
	r.mux.HandleFunc("POST /api/sessions/{id}/scroll", r.sessionHandler.Scroll)
	r.mux.HandleFunc("POST /api/sessions/{id}/reset", r.sessionHandler.Reset)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)

	if r.cacheMiddleware != nil {
		handler = r.cacheMiddleware.Middleware(handler)
	}

	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)

	// Event streams skip the buffering middleware so every event is flushed
	root := http.NewServeMux()
	root.Handle("/", handler)
	if r.sseHandler != nil {
		root.Handle("GET /api/sessions/{id}/events", middleware.LoggingMiddleware(http.HandlerFunc(r.sseHandler.StreamSession)))
	}

	// CORS wraps everything so headers are set even on cache HITs
	return middleware.CORSMiddleware(r.allowedOrigins)(root)
}
