package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Dependencies are the backends the API serves from. Repository, Cache, Bus
// and Recorder may be nil; routes that need a missing one answer 503.
type Dependencies struct {
	Pipeline   *pipeline.Pipeline
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Recorder   *telemetry.Recorder
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Recorder != nil {
		router.Method(http.MethodGet, "/metrics", deps.Recorder.Handler())
	}

	// Stateless screening
	router.Post("/analyze", handler.Analyze)

	// Rule configurations
	router.Get("/configurations", handler.ListConfigurations)
	router.Post("/configurations", handler.SaveConfiguration)
	router.Get("/configurations/{name}", handler.GetConfiguration)
	router.Get("/configurations/{name}/compare/{other}", handler.CompareConfigurations)

	// Transaction dataset
	router.Post("/transactions", handler.IngestTransactions)
	router.Get("/transactions", handler.ListTransactions)

	// Detection runs
	router.Route("/runs", func(r chi.Router) {
		r.Post("/", handler.CreateRun)
		r.Get("/", handler.ListRuns)
		r.Get("/{id}", handler.GetRun)
		r.Get("/{id}/metrics", handler.GetRunMetrics)
		r.Get("/{id}/transactions", handler.GetRunTransactions)
		r.Get("/{id}/report", handler.GetRunReport)
		r.Get("/{id}/summary", handler.GetRunSummary)
		r.Get("/{id}/details", handler.GetRunDetails)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
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
