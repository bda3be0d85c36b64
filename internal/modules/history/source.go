package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avelios/anchor/internal/domain"
)

// SampleSource adapts the repository to domain.MarketData so simulations can
// replay locally recorded samples when no upstream market data client is
// configured. GetPrice serves the most recent stored daily close; a symbol
// with no samples yields domain.ErrNotFound.
type SampleSource struct {
	repo *Repository
}

func NewSampleSource(repo *Repository) *SampleSource {
	return &SampleSource{repo: repo}
}

func (s *SampleSource) GetPrice(symbol string) (*domain.PriceQuote, error) {
	var ts int64
	var closePrice float64
	err := s.repo.db.QueryRow(`
		SELECT ts, close FROM price_samples
		WHERE symbol = ? AND resolution = ?
		ORDER BY ts DESC LIMIT 1`,
		symbol, string(domain.ResolutionDaily)).Scan(&ts, &closePrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no recorded samples for %s", domain.ErrNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sample: %w", err)
	}
	return &domain.PriceQuote{
		Symbol:        symbol,
		Price:         closePrice,
		Timestamp:     time.Unix(ts, 0).UTC(),
		IsMarketHours: false,
	}, nil
}

func (s *SampleSource) GetHistorical(symbol string, start, end time.Time, resolution domain.Resolution) ([]domain.PriceSample, error) {
	return s.repo.GetRange(symbol, start, end, resolution)
}
