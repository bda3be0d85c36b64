package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/avelios/anchor/internal/modules/simulation"
)

// SimulationHandlers contains HTTP handlers for backtest runs
type SimulationHandlers struct {
	log          zerolog.Logger
	orchestrator *simulation.Orchestrator
	runs         simulation.RunStore
}

// NewSimulationHandlers creates a new simulation handlers instance
func NewSimulationHandlers(orchestrator *simulation.Orchestrator, runs simulation.RunStore, log zerolog.Logger) *SimulationHandlers {
	return &SimulationHandlers{
		log:          log.With().Str("handler", "simulations").Logger(),
		orchestrator: orchestrator,
		runs:         runs,
	}
}

// RegisterRoutes registers all simulation routes
func (h *SimulationHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/simulations", func(r chi.Router) {
		r.Post("/", h.HandleRun)
		r.Get("/", h.HandleList)
		r.Get("/{runID}", h.HandleGet)
	})
}

// HandleRun executes a backtest synchronously and returns the full run
// POST /api/simulations
func (h *SimulationHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var cfg simulation.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}

	run, err := h.orchestrator.Run(cfg)
	if err != nil {
		h.log.Error().Err(err).Str("ticker", cfg.Ticker).Msg("Simulation failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// HandleList returns run summaries, newest first
// GET /api/simulations?limit=20
func (h *SimulationHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil {
			limit = parsed
		}
	}

	summaries, err := h.runs.List(limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// HandleGet returns one stored run with full trade and outcome detail
// GET /api/simulations/{runID}
func (h *SimulationHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}
