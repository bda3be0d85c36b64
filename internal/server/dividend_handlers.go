package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/modules/dividends"
)

// DividendHandlers contains HTTP handlers for dividend receivables
type DividendHandlers struct {
	log       zerolog.Logger
	processor *dividends.Processor
}

// NewDividendHandlers creates a new dividend handlers instance
func NewDividendHandlers(processor *dividends.Processor, log zerolog.Logger) *DividendHandlers {
	return &DividendHandlers{
		log:       log.With().Str("handler", "dividends").Logger(),
		processor: processor,
	}
}

// RegisterRoutes registers all dividend routes
func (h *DividendHandlers) RegisterRoutes(r chi.Router) {
	r.Post("/positions/{id}/dividends", h.HandleExDividend)
	r.Get("/positions/{id}/dividends", h.HandleListByPosition)
	r.Get("/dividends/pending", h.HandleListPending)
	r.Post("/dividends/{receivableID}/pay", h.HandlePay)
}

type exDividendRequest struct {
	ExDate           string  `json:"ex_date"`
	PayDate          string  `json:"pay_date"`
	DividendPerShare float64 `json:"dividend_per_share"`
	TaxRate          float64 `json:"tax_rate"`
}

// HandleExDividend records an ex-dividend event: the anchor drops by the
// dividend per share and a receivable is booked. Reprocessing the same
// (position, ex_date) returns 409 with the original receivable untouched.
// POST /api/positions/{id}/dividends
func (h *DividendHandlers) HandleExDividend(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req exDividendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	receivable, err := h.processor.ProcessExDividend(id, req.ExDate, req.PayDate, req.DividendPerShare, req.TaxRate)
	if err != nil {
		if errors.Is(err, dividends.ErrAlreadyProcessed) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":      "ex-dividend already processed",
				"receivable": receivable,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receivable)
}

// HandleListByPosition returns every receivable of a position
// GET /api/positions/{id}/dividends
func (h *DividendHandlers) HandleListByPosition(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	receivables, err := h.processor.ByPosition(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receivables)
}

// HandleListPending returns all unpaid receivables
// GET /api/dividends/pending
func (h *DividendHandlers) HandleListPending(w http.ResponseWriter, r *http.Request) {
	receivables, err := h.processor.Pending()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receivables)
}

type payRequest struct {
	PayDate string `json:"pay_date"`
}

// HandlePay settles a pending receivable: net cash lands on the position.
// Paying twice returns 409.
// POST /api/dividends/{receivableID}/pay
func (h *DividendHandlers) HandlePay(w http.ResponseWriter, r *http.Request) {
	receivableID, err := strconv.ParseInt(chi.URLParam(r, "receivableID"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid receivable id", domain.ErrInvalidInput))
		return
	}

	req := payRequest{}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.PayDate == "" {
		req.PayDate = time.Now().UTC().Format("2006-01-02")
	}

	receivable, err := h.processor.ProcessPayment(receivableID, req.PayDate)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receivable)
}
