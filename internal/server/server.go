package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/genq/internal/config"
	"github.com/me/genq/internal/history"
	"github.com/me/genq/pkg/engine"
)

// Server is the genq REST API server: a thin facade over one engine
// instance plus the optional generation journal.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	engine    *engine.Engine
	history   *history.Store // optional; nil disables journal endpoints
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithHistory attaches the generation journal used by /history and for
// looking up settled tasks.
func WithHistory(h *history.Store) Option {
	return func(s *Server) {
		s.history = h
	}
}

// New creates a Server with all routes registered.
func New(cfg config.ServerConfig, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		engine:    eng,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Health
		r.Get("/health", s.handleHealth)

		// Engine state
		r.Get("/state", s.handleState)

		// Generations
		r.Route("/generations", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Delete("/", s.handleCancelAll)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGeneration)
				r.Delete("/", s.handleCancelQueued)
			})
		})

		// User interaction signal (advances waiting_for_user)
		r.Post("/interactions", s.handleInteraction)

		// Journal of settled generations
		r.Get("/history", s.handleListHistory)

		// SSE stream of state transitions
		r.Get("/sse/state", s.handleSSEState)
	})
}
