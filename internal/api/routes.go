package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MaxRequestBody caps sync and queue request bodies.
const MaxRequestBody = 8 << 20

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes: the token subject is the owner
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.tokens))
			r.Use(MaxBodyMiddleware(MaxRequestBody))

			r.Post("/sync", h.Sync)
			r.Post("/sync/queue", h.Enqueue)
			r.Get("/sync/status", h.Status)
			r.Get("/sync/sessions", h.Sessions)
			r.Get("/sync/dead-letters", h.DeadLetters)
			r.Get("/sync/conflicts", h.Conflicts)

			r.Get("/tasks", h.ListTasks)
			r.Get("/tasks/{id}", h.GetTask)
		})
	})

	return r
}
