// Package api serves the fritzwatch HTTP status API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fritzwatch/fritzwatch/internal/api/middleware"
	"github.com/fritzwatch/fritzwatch/internal/phonebook"
	"github.com/fritzwatch/fritzwatch/internal/store"
	"github.com/fritzwatch/fritzwatch/internal/tracker"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	tracker   *tracker.Tracker
	calls     *store.CallLog
	dir       *phonebook.Directory
	refresher *phonebook.Refresher
	metrics   http.Handler
	limiter   *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. calls and
// metrics may be nil; the corresponding endpoints then report accordingly.
func NewServer(
	tr *tracker.Tracker,
	calls *store.CallLog,
	dir *phonebook.Directory,
	refresher *phonebook.Refresher,
	metrics http.Handler,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		tracker:   tr,
		calls:     calls,
		dir:       dir,
		refresher: refresher,
		metrics:   metrics,
		limiter:   middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.RateLimit(s.limiter))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Get("/calls", s.handleCalls)

		r.Route("/phonebook", func(r chi.Router) {
			r.Get("/", s.handlePhonebook)
			r.Post("/refresh", s.handlePhonebookRefresh)
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	slog.Info("api routes mounted")
}
