// Package server provides the HTTP API for the anchor engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/avelios/anchor/internal/database"
	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/events"
	"github.com/avelios/anchor/internal/modules/dividends"
	"github.com/avelios/anchor/internal/modules/positions"
	"github.com/avelios/anchor/internal/modules/simulation"
	"github.com/avelios/anchor/internal/modules/trading"
	"github.com/avelios/anchor/internal/reliability"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	DataDir   string
	LedgerDB  *database.DB
	HistoryDB *database.DB
	CacheDB   *database.DB

	Positions    *positions.Service
	PositionRepo *positions.Repository
	Cycle        *engine.Cycle
	Ledger       *trading.LedgerService
	Dividends    *dividends.Processor
	Simulations  *simulation.Orchestrator
	Runs         simulation.RunStore
	EventRepo    *events.Repository
	Market       domain.MarketData
	Backups      *reliability.BackupService
}

// Server is the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config

	startedAt time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the router for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	positionHandlers := NewPositionHandlers(s.cfg.Positions, s.cfg.PositionRepo, s.cfg.Cycle, s.cfg.Market, s.log)
	tradingHandlers := NewTradingHandlers(s.cfg.Ledger, s.log)
	dividendHandlers := NewDividendHandlers(s.cfg.Dividends, s.log)
	simulationHandlers := NewSimulationHandlers(s.cfg.Simulations, s.cfg.Runs, s.log)
	eventHandlers := NewEventHandlers(s.cfg.EventRepo, s.log)
	systemHandlers := NewSystemHandlers(s.cfg.DataDir, s.databases(), s.cfg.Backups, s.startedAt, s.log)

	s.router.Route("/api", func(r chi.Router) {
		positionHandlers.RegisterRoutes(r)
		tradingHandlers.RegisterRoutes(r)
		dividendHandlers.RegisterRoutes(r)
		simulationHandlers.RegisterRoutes(r)
		eventHandlers.RegisterRoutes(r)
		systemHandlers.RegisterRoutes(r)
	})
}

func (s *Server) databases() map[string]*database.DB {
	return map[string]*database.DB{
		"ledger":  s.cfg.LedgerDB,
		"history": s.cfg.HistoryDB,
		"cache":   s.cfg.CacheDB,
	}
}

// handleHealth is the liveness endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// loggingMiddleware logs each request with duration and status
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("Request")
	})
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
