package simulation

import (
	"errors"
	"fmt"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/events"
	"github.com/avelios/anchor/internal/modules/dividends"
	"github.com/avelios/anchor/internal/modules/trading"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator replays a historical series through the evaluation cycle.
// Each run builds a fresh in-memory position and ledger over the identical
// Cycle/LedgerService code path used live, so simulated behavior predicts
// live behavior. One run is single-threaded with monotonic simulated time;
// independent runs may execute in parallel.
type Orchestrator struct {
	source domain.MarketData
	runs   RunStore
	events *events.Manager
	log    zerolog.Logger
}

func NewOrchestrator(source domain.MarketData, runs RunStore, events *events.Manager, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		source: source,
		runs:   runs,
		events: events,
		log:    log.With().Str("service", "simulation").Logger(),
	}
}

// Run executes one backtest and persists the resulting immutable Run.
func (o *Orchestrator) Run(cfg Config) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	samples, err := o.source.GetHistorical(cfg.Ticker, cfg.Start, cfg.End, cfg.Resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to load samples for %s: %w", cfg.Ticker, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples for %s in range", domain.ErrInvalidInput, cfg.Ticker)
	}

	run, err := o.replay(cfg, samples)
	if err != nil {
		return nil, err
	}

	if o.runs != nil {
		if err := o.runs.Save(run); err != nil {
			return nil, fmt.Errorf("failed to persist run: %w", err)
		}
	}
	if o.events != nil {
		o.events.Emit(uuid.NewString(), events.SimulationCompleted, "simulation",
			map[string]interface{}{
				"ticker":     cfg.Ticker,
				"resolution": string(cfg.Resolution),
				"samples":    run.SampleCount,
			},
			map[string]interface{}{
				"run_id":       run.ID,
				"trade_count":  run.Metrics.TradeCount,
				"total_return": run.Metrics.TotalReturnPct,
				"alpha":        run.Metrics.AlphaPct,
			}, "")
	}

	o.log.Info().
		Str("run_id", run.ID).
		Str("ticker", cfg.Ticker).
		Int("trades", run.Metrics.TradeCount).
		Float64("total_return_pct", run.Metrics.TotalReturnPct).
		Msg("simulation completed")
	return run, nil
}

// replay is the deterministic core: identical inputs produce an identical
// trade log.
func (o *Orchestrator) replay(cfg Config, samples []domain.PriceSample) (*Run, error) {
	clock := &domain.FixedClock{Current: samples[0].Timestamp}
	collector := newEventCollector()
	manager := events.NewManager(collector, zerolog.Nop())

	positions := newMemoryPositionStore()
	anchor := cfg.AnchorPrice
	if anchor == 0 {
		anchor = samples[0].Close
	}
	position := &domain.Position{
		Symbol:   cfg.Ticker,
		Status:   domain.StatusActive,
		Quantity: cfg.InitialQty,
		Cash:     cfg.InitialCash,
		AvgCost:  anchor,
		Config:   cfg.Engine,
	}
	position.SetAnchor(anchor)
	if err := positions.Create(position); err != nil {
		return nil, err
	}

	ledgerStore := trading.NewMemoryStore(positions)
	ledger := trading.NewLedgerService(ledgerStore, positions, manager, clock, zerolog.Nop())
	cycle := engine.NewCycle(positions, ledger, manager, clock, zerolog.Nop())
	processor := dividends.NewProcessor(dividends.NewMemoryStore(positions), positions, manager, clock, cycle.Locks(), zerolog.Nop())

	// Pending receivables settle in declaration order so the recorded
	// event sequence is identical across runs with identical inputs.
	type pendingPayment struct {
		receivableID int64
		payDate      string
	}
	var pendingPayments []pendingPayment
	appliedEx := make(map[string]bool)

	var outcomes []engine.EvaluationOutcome
	var equity []float64

	for i, sample := range samples {
		clock.Set(sample.Timestamp)
		day := sample.Timestamp.UTC().Format("2006-01-02")

		// Hard ordering invariant: ex-dividend adjustments land before the
		// same day's price is evaluated.
		for _, event := range cfg.Dividends {
			if event.ExDate != day || appliedEx[event.ExDate] {
				continue
			}
			receivable, err := processor.ProcessExDividend(position.ID, event.ExDate, event.PayDate, event.DividendPerShare, event.TaxRate)
			if err != nil && !errors.Is(err, dividends.ErrAlreadyProcessed) {
				return nil, fmt.Errorf("ex-dividend on %s failed: %w", day, err)
			}
			appliedEx[event.ExDate] = true
			if receivable != nil && event.PayDate != "" {
				pendingPayments = append(pendingPayments, pendingPayment{receivable.ID, event.PayDate})
			}
		}

		remaining := pendingPayments[:0]
		for _, p := range pendingPayments {
			if p.payDate > day {
				remaining = append(remaining, p)
				continue
			}
			if _, err := processor.ProcessPayment(p.receivableID, day); err != nil && !errors.Is(err, domain.ErrAlreadyPaid) {
				return nil, fmt.Errorf("dividend payment on %s failed: %w", day, err)
			}
		}
		pendingPayments = remaining

		outcome, err := cycle.Evaluate(position.ID, sample.Close, fmt.Sprintf("sim-%d", i))
		if err != nil {
			return nil, fmt.Errorf("evaluation at sample %d failed: %w", i, err)
		}
		outcomes = append(outcomes, *outcome)

		state, err := positions.Get(position.ID)
		if err != nil {
			return nil, err
		}
		equity = append(equity, state.MarketValue(sample.Close)+state.DividendReceivable)
	}

	final, err := positions.Get(position.ID)
	if err != nil {
		return nil, err
	}

	trades, err := flattenTrades(ledgerStore, position.ID)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:          uuid.NewString(),
		Config:      cfg,
		Trades:      trades,
		Outcomes:    outcomes,
		Events:      collector.All(),
		FinalQty:    final.Quantity,
		FinalCash:   final.Cash,
		SampleCount: len(samples),
		CreatedAt:   clock.Now().UTC(),
	}
	run.Metrics = computeMetrics(cfg.Resolution, samples, trades, equity, cfg.InitialQty, anchor)
	return run, nil
}

// flattenTrades joins trades with their orders' sides, in execution order.
func flattenTrades(store *trading.MemoryStore, positionID int64) ([]TradeRecord, error) {
	trades, err := store.ListTrades(positionID)
	if err != nil {
		return nil, err
	}
	records := make([]TradeRecord, 0, len(trades))
	for _, t := range trades {
		order, err := store.GetOrder(t.OrderID)
		if err != nil {
			return nil, err
		}
		records = append(records, TradeRecord{
			Side:       order.Side,
			Qty:        t.Quantity,
			Price:      t.Price,
			Commission: t.Commission,
			ExecutedAt: t.ExecutedAt,
		})
	}
	return records, nil
}
