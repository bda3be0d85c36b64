package scheduler

import (
	"errors"
	"fmt"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/modules/dividends"
	"github.com/rs/zerolog"
)

// Evaluator runs one evaluation cycle for a position
// Used by scheduler to enable testing with mocks
type Evaluator interface {
	Evaluate(positionID int64, price float64, idempotencyKey string) (*engine.EvaluationOutcome, error)
}

// ReceivableSettler settles pending dividend receivables
// Used by scheduler to enable testing with mocks
type ReceivableSettler interface {
	Pending() ([]dividends.Receivable, error)
	ProcessPayment(receivableID int64, payDate string) (*dividends.Receivable, error)
}

// EvaluatePositionsJob evaluates every active position against a fresh quote.
// Mature dividend receivables are settled before any evaluation runs, so
// evaluations on a pay date always see the credited cash.
type EvaluatePositionsJob struct {
	log       zerolog.Logger
	positions domain.PositionStore
	market    domain.MarketData
	cycle     Evaluator
	dividends ReceivableSettler
	clock     domain.Clock
}

// NewEvaluatePositionsJob creates a new EvaluatePositionsJob
func NewEvaluatePositionsJob(
	positions domain.PositionStore,
	market domain.MarketData,
	cycle Evaluator,
	settler ReceivableSettler,
	clock domain.Clock,
) *EvaluatePositionsJob {
	return &EvaluatePositionsJob{
		log:       zerolog.Nop(),
		positions: positions,
		market:    market,
		cycle:     cycle,
		dividends: settler,
		clock:     clock,
	}
}

// SetLogger sets the logger for the job
func (j *EvaluatePositionsJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *EvaluatePositionsJob) Name() string {
	return "evaluate_positions"
}

// Run executes the evaluate positions job
func (j *EvaluatePositionsJob) Run() error {
	now := j.clock.Now().UTC()
	today := now.Format("2006-01-02")

	paid, err := settleMature(j.dividends, today, j.log)
	if err != nil {
		return fmt.Errorf("failed to settle receivables: %w", err)
	}

	positions, err := j.positions.GetActive()
	if err != nil {
		return fmt.Errorf("failed to load active positions: %w", err)
	}

	evaluated := 0
	skipped := 0
	for _, position := range positions {
		quote, err := j.market.GetPrice(position.Symbol)
		if err != nil {
			j.log.Warn().
				Err(err).
				Int64("position_id", position.ID).
				Str("symbol", position.Symbol).
				Msg("Failed to fetch quote, skipping position")
			skipped++
			continue
		}

		if !quote.IsMarketHours {
			j.log.Debug().
				Int64("position_id", position.ID).
				Str("symbol", position.Symbol).
				Msg("Market closed, skipping position")
			skipped++
			continue
		}

		key := fmt.Sprintf("eval-%d-%d", position.ID, now.Unix())
		outcome, err := j.cycle.Evaluate(position.ID, quote.Price, key)
		if err != nil {
			// Busy means an API-triggered evaluation is in flight; the next
			// tick will pick the position up again.
			if errors.Is(err, domain.ErrBusy) {
				j.log.Debug().
					Int64("position_id", position.ID).
					Msg("Position busy, skipping")
				skipped++
				continue
			}
			j.log.Error().
				Err(err).
				Int64("position_id", position.ID).
				Str("symbol", position.Symbol).
				Msg("Evaluation failed")
			skipped++
			continue
		}

		j.log.Debug().
			Int64("position_id", position.ID).
			Str("outcome", string(outcome.Outcome)).
			Float64("price", quote.Price).
			Msg("Position evaluated")
		evaluated++
	}

	j.log.Info().
		Int("evaluated", evaluated).
		Int("skipped", skipped).
		Int("receivables_paid", paid).
		Msg("Evaluation sweep completed")

	return nil
}

// settleMature pays every pending receivable whose pay date has arrived.
// Concurrent settlement is safe: a receivable already paid by another path
// surfaces as ErrAlreadyPaid and is skipped.
func settleMature(settler ReceivableSettler, today string, log zerolog.Logger) (int, error) {
	pending, err := settler.Pending()
	if err != nil {
		return 0, err
	}

	paid := 0
	for _, receivable := range pending {
		if receivable.PayDate == "" || receivable.PayDate > today {
			continue
		}

		if _, err := settler.ProcessPayment(receivable.ID, today); err != nil {
			if errors.Is(err, domain.ErrAlreadyPaid) {
				continue
			}
			log.Error().
				Err(err).
				Int64("receivable_id", receivable.ID).
				Int64("position_id", receivable.PositionID).
				Msg("Failed to settle receivable")
			continue
		}

		log.Info().
			Int64("receivable_id", receivable.ID).
			Int64("position_id", receivable.PositionID).
			Float64("net_amount", receivable.NetAmount).
			Msg("Receivable settled")
		paid++
	}

	return paid, nil
}
