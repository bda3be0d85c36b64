package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/avelios/anchor/internal/modules/trading"
)

// TradingHandlers contains HTTP handlers for the order and trade ledger
type TradingHandlers struct {
	log    zerolog.Logger
	ledger *trading.LedgerService
}

// NewTradingHandlers creates a new trading handlers instance
func NewTradingHandlers(ledger *trading.LedgerService, log zerolog.Logger) *TradingHandlers {
	return &TradingHandlers{
		log:    log.With().Str("handler", "trading").Logger(),
		ledger: ledger,
	}
}

// RegisterRoutes registers all trading routes
func (h *TradingHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/positions/{id}/orders", h.HandleListOrders)
	r.Get("/positions/{id}/trades", h.HandleListTrades)
}

// HandleListOrders returns the order history of a position
// GET /api/positions/{id}/orders
func (h *TradingHandlers) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	orders, err := h.ledger.Orders(id)
	if err != nil {
		h.log.Error().Err(err).Int64("position_id", id).Msg("Failed to list orders")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// HandleListTrades returns the trade history of a position
// GET /api/positions/{id}/trades
func (h *TradingHandlers) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	trades, err := h.ledger.Trades(id)
	if err != nil {
		h.log.Error().Err(err).Int64("position_id", id).Msg("Failed to list trades")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trades)
}
