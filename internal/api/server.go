// Package api exposes the tool gateway called by the dialogue runtime
// and a small admin surface for cases, leads, and qualifiers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-voice/kestrel/internal/caseflow"
	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/faq"
	"github.com/opensource-voice/kestrel/internal/leads"
	"github.com/opensource-voice/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, sessions domain.SessionStore, bus domain.EventBus, cases *caseflow.Service, leadSvc *leads.Service, faqIndex *faq.Index, engine *rules.Engine, version string) *Server {
	handler := NewHandler(repo, sessions, bus, cases, leadSvc, faqIndex, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no conversation required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Tool routes called by the dialogue runtime (conversation required)
	router.Route("/tools", func(r chi.Router) {
		r.Use(ConversationMiddleware)

		r.Post("/load_case", handler.LoadCase)
		r.Post("/verify_customer", handler.VerifyCustomer)
		r.Post("/resolve_case", handler.ResolveCase)
		r.Post("/record_lead", handler.RecordLead)
		r.Post("/search_faq", handler.SearchFAQ)
	})

	// Admin routes
	router.Get("/cases", handler.ListCases)
	router.Get("/cases/{id}", handler.GetCase)
	router.Get("/leads", handler.ListLeads)
	router.Get("/qualifiers", handler.ListQualifiers)
	router.Post("/qualifiers", handler.CreateQualifier)
	router.Post("/qualifiers/reload", handler.ReloadQualifiers)

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
