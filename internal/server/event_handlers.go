package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/avelios/anchor/internal/events"
)

// EventHandlers contains HTTP handlers for the audit trail
type EventHandlers struct {
	log  zerolog.Logger
	repo *events.Repository
}

// NewEventHandlers creates a new event handlers instance
func NewEventHandlers(repo *events.Repository, log zerolog.Logger) *EventHandlers {
	return &EventHandlers{
		log:  log.With().Str("handler", "events").Logger(),
		repo: repo,
	}
}

// RegisterRoutes registers all event routes
func (h *EventHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/trace/{traceID}", h.HandleByTrace)
	})
}

// HandleList returns recent audit events, newest first
// GET /api/events?type=evaluation.completed&limit=100
func (h *EventHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil {
			limit = parsed
		}
	}

	list, err := h.repo.ListRecent(r.URL.Query().Get("type"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list events")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// HandleByTrace returns every event of one evaluation cycle, oldest first
// GET /api/events/trace/{traceID}
func (h *EventHandlers) HandleByTrace(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListByTraceID(chi.URLParam(r, "traceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}
