package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Akoredejo/SentinelShield/internal/analysis"
	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/engine"
	"github.com/Akoredejo/SentinelShield/internal/metrics"
	"github.com/Akoredejo/SentinelShield/internal/rules"
)

// Deps are the collaborators the API serves.
type Deps struct {
	Engine   *engine.Engine
	Analyzer *analysis.Analyzer
	Rules    *rules.Engine
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Version  string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(metrics.Middleware)
	router.Use(middleware.RealIP)

	// Probes and scraping (no caller required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(CallerMiddleware)

		r.Route("/traders", func(r chi.Router) {
			r.Post("/", handler.RegisterTrader)
			r.Get("/{id}", handler.GetTrader)
			r.Post("/{id}/blacklist", handler.BlacklistTrader)
			r.Post("/{id}/trades", handler.RecordTrade)
			r.Get("/{id}/anomalies", handler.ListAnomalyWindows)
			r.Get("/{id}/anomalies/{window}", handler.GetAnomalyWindow)
		})

		r.Route("/model/features", func(r chi.Router) {
			r.Get("/", handler.ListFeatureWeights)
			r.Get("/{id}", handler.GetFeatureWeight)
			r.Put("/{id}", handler.SetFeatureWeight)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", handler.GenerateAlert)
			r.Get("/", handler.ListAlerts)
			r.Get("/stream", handler.StreamAlerts)
			r.Get("/{id}", handler.GetAlert)
			r.Put("/{id}/status", handler.UpdateAlertStatus)
		})

		r.Post("/anomalies", handler.RecordAnomalyWindow)

		// Scoring entry points share the per-caller budget
		r.With(limiter.Middleware).Post("/analyze", handler.Analyze)
		r.With(limiter.Middleware).Post("/trades", handler.IngestTrade)

		r.Get("/risk/score", handler.RiskScore)

		r.Route("/system", func(r chi.Router) {
			r.Get("/", handler.GetSystemState)
			r.Put("/threshold", handler.SetFraudThreshold)
			r.Put("/active", handler.SetSystemActive)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Post("/reload", handler.ReloadRules)
		})
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
	s.handler.closeStreams()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
