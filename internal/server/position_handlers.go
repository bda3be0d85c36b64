package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/modules/positions"
)

// PositionHandlers contains HTTP handlers for the positions API
type PositionHandlers struct {
	log     zerolog.Logger
	service *positions.Service
	repo    *positions.Repository
	cycle   *engine.Cycle
	market  domain.MarketData
}

// NewPositionHandlers creates a new position handlers instance
func NewPositionHandlers(
	service *positions.Service,
	repo *positions.Repository,
	cycle *engine.Cycle,
	market domain.MarketData,
	log zerolog.Logger,
) *PositionHandlers {
	return &PositionHandlers{
		log:     log.With().Str("handler", "positions").Logger(),
		service: service,
		repo:    repo,
		cycle:   cycle,
		market:  market,
	}
}

// RegisterRoutes registers all position routes
func (h *PositionHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/positions", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}/config", h.HandleUpdateConfig)
		r.Post("/{id}/start", h.HandleStart)
		r.Post("/{id}/pause", h.HandlePause)
		r.Post("/{id}/archive", h.HandleArchive)
		r.Post("/{id}/evaluate", h.HandleEvaluate)
	})
}

// HandleList returns all positions
// GET /api/positions?include_archived=true
func (h *PositionHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	list, err := h.repo.List(includeArchived)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list positions")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// HandleCreate creates a new position in PAUSED state
// POST /api/positions
func (h *PositionHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var params positions.CreateParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	position, err := h.service.Create(params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, position)
}

// HandleGet returns one position
// GET /api/positions/{id}
func (h *PositionHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	position, err := h.repo.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, position)
}

// HandleUpdateConfig replaces the position configuration
// PUT /api/positions/{id}/config
func (h *PositionHandlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var config domain.PositionConfig
	if err := decodeJSON(r, &config); err != nil {
		writeError(w, err)
		return
	}

	position, err := h.service.UpdateConfig(id, config)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, position)
}

// HandleStart transitions a position to ACTIVE
// POST /api/positions/{id}/start
func (h *PositionHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Start)
}

// HandlePause transitions a position to PAUSED
// POST /api/positions/{id}/pause
func (h *PositionHandlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Pause)
}

// HandleArchive transitions a position to ARCHIVED
// POST /api/positions/{id}/archive
func (h *PositionHandlers) HandleArchive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Archive)
}

func (h *PositionHandlers) transition(w http.ResponseWriter, r *http.Request, fn func(int64) (*domain.Position, error)) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	position, err := fn(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, position)
}

type evaluateRequest struct {
	Price          float64 `json:"price"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// HandleEvaluate runs one evaluation cycle against an observed price. When
// no price is supplied the current quote is fetched. Business outcomes
// (hold, blocked, rejected, duplicate) come back as 200; only transport and
// validation failures map to error codes.
// POST /api/positions/{id}/evaluate
func (h *PositionHandlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	req := evaluateRequest{}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	price := req.Price
	if price == 0 {
		position, err := h.repo.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		quote, err := h.market.GetPrice(position.Symbol)
		if err != nil {
			h.log.Error().Err(err).Str("symbol", position.Symbol).Msg("Failed to fetch quote")
			writeError(w, err)
			return
		}
		price = quote.Price
	}

	key := req.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("api-%d-%d", id, time.Now().UnixNano())
	}

	outcome, err := h.cycle.Evaluate(id, price, key)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// positionID parses the {id} URL parameter
func positionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid position id", domain.ErrInvalidInput)
	}
	return id, nil
}
