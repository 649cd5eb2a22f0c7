package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/synchronie/cotation/internal/domain"
	"github.com/synchronie/cotation/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. A nil m disables /metrics.
func NewServer(cfg domain.ServerConfig, deps Deps, m *metrics.Metrics, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	if m != nil {
		router.Use(MetricsMiddleware(m))
	}
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no practitioner required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if m != nil {
		router.Method(http.MethodGet, "/metrics", m.Handler())
	}

	// Grid schemas are shared by every practitioner
	router.Get("/grids/{id}", handler.GetGrid)
	router.Delete("/grids/{id}/cache", handler.InvalidateGrid)

	router.Group(func(r chi.Router) {
		r.Use(PractitionerMiddleware)

		r.Post("/sessions", handler.OpenSession)
		r.Get("/sessions", handler.ListSessions)
		r.Get("/sessions/{id}", handler.GetSession)
		r.Delete("/sessions/{id}", handler.DiscardSession)
		r.Put("/sessions/{id}/ratings", handler.RecordRating)
		r.Post("/sessions/{id}/reset", handler.ResetSession)
		r.Get("/sessions/{id}/preview", handler.PreviewSave)
		r.Post("/sessions/{id}/save", handler.SaveSession)

		r.Get("/saves", handler.ListSaves)
		r.Get("/saves/{id}", handler.GetSave)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start serves HTTP until Shutdown. After Shutdown it returns
// http.ErrServerClosed, even when Start runs late.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
