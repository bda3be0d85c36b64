package engine

import (
	"fmt"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutcomeKind is the terminal state of one evaluation cycle.
type OutcomeKind string

const (
	OutcomeHold      OutcomeKind = "HOLD"
	OutcomeBlocked   OutcomeKind = "BLOCKED"
	OutcomeSkipped   OutcomeKind = "SKIPPED"
	OutcomeExecuted  OutcomeKind = "EXECUTED"
	OutcomeRejected  OutcomeKind = "REJECTED"
	OutcomeDuplicate OutcomeKind = "DUPLICATE"
)

// EvaluationOutcome is the structured result of one (position, price) cycle.
// Business rejections come back here as normal outcomes, never as errors.
type EvaluationOutcome struct {
	TraceID    string      `json:"trace_id"`
	PositionID int64       `json:"position_id"`
	Symbol     string      `json:"symbol"`
	Price      float64     `json:"price"`
	Anchor     float64     `json:"anchor"`
	DeltaPct   float64     `json:"delta_pct"`
	Signal     Signal      `json:"signal"`
	Outcome    OutcomeKind `json:"outcome"`
	Side       domain.Side `json:"side,omitempty"`
	RawQty     float64     `json:"raw_qty,omitempty"`
	FinalQty   float64     `json:"final_qty,omitempty"`
	OrderID    string      `json:"order_id,omitempty"`
	FillPrice  float64     `json:"fill_price,omitempty"`
	Commission float64     `json:"commission,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// SubmitRequest asks the ledger for an idempotent order submission.
type SubmitRequest struct {
	PositionID     int64
	Side           domain.Side
	Qty            float64
	Price          float64
	IdempotencyKey string
	TraceID        string
}

// SubmitResult reports what the ledger did with a submission. Duplicate means
// the idempotency key was already resolved and this is the stored outcome.
type SubmitResult struct {
	OrderID   string
	Status    string
	Duplicate bool
	Rejected  bool
	Reason    string
}

// ExecuteResult reports an applied fill.
type ExecuteResult struct {
	TradeID    int64
	FillQty    float64
	FillPrice  float64
	Commission float64
}

// Ledger is the order/trade bookkeeping collaborator. Submit validates
// sufficiency and is idempotent per (position, key); Execute applies the fill
// to the position atomically; Reject records an order that policy rounding
// rejected before submission.
type Ledger interface {
	Submit(req SubmitRequest) (*SubmitResult, error)
	Execute(orderID string, fillQty, fillPrice float64, traceID string) (*ExecuteResult, error)
	Reject(req SubmitRequest, reason string) (*SubmitResult, error)
}

// Cycle runs the evaluation pipeline for one price observation. The same
// instance serves the live scheduler, manual HTTP triggers, and the
// simulation orchestrator, so live and simulated runs share one code path.
type Cycle struct {
	positions domain.PositionStore
	ledger    Ledger
	events    *events.Manager
	clock     domain.Clock
	log       zerolog.Logger
	locks     *domain.PositionLocks
}

func NewCycle(positions domain.PositionStore, ledger Ledger, events *events.Manager, clock domain.Clock, log zerolog.Logger) *Cycle {
	return &Cycle{
		positions: positions,
		ledger:    ledger,
		events:    events,
		clock:     clock,
		log:       log.With().Str("component", "cycle").Logger(),
		locks:     domain.NewPositionLocks(),
	}
}

// Locks exposes the per-position lock registry so collaborators that mutate
// positions outside a cycle (the dividend processor) serialize against
// in-flight evaluations.
func (c *Cycle) Locks() *domain.PositionLocks {
	return c.locks
}

// Evaluate runs one full cycle for the position at the observed price.
// At most one cycle per position runs at a time; a second caller gets
// ErrBusy and may retry. Any failure mid-chain aborts without partial
// position mutation.
func (c *Cycle) Evaluate(positionID int64, price float64, idempotencyKey string) (*EvaluationOutcome, error) {
	lock := c.locks.Get(positionID)
	if !lock.TryLock() {
		return nil, fmt.Errorf("position %d: %w", positionID, domain.ErrBusy)
	}
	defer lock.Unlock()

	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive, got %f", domain.ErrInvalidInput, price)
	}

	position, err := c.positions.Get(positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if position.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: position %d is %s, not ACTIVE", domain.ErrInvalidInput, positionID, position.Status)
	}

	outcome := &EvaluationOutcome{
		TraceID:    uuid.NewString(),
		PositionID: position.ID,
		Symbol:     position.Symbol,
		Price:      price,
		Anchor:     position.Anchor(),
	}
	cfg := position.Config

	trigger, err := DetectTrigger(price, position.Anchor(), cfg.TriggerUpPct, cfg.TriggerDownPct)
	if err != nil {
		return nil, err
	}
	outcome.Signal = trigger.Signal
	outcome.DeltaPct = trigger.DeltaPct

	if trigger.Signal == SignalHold {
		outcome.Outcome = OutcomeHold
		outcome.Reason = fmt.Sprintf("deviation %.4f inside [%.4f, %.4f]", trigger.DeltaPct, cfg.TriggerDownPct, cfg.TriggerUpPct)
		c.finish(outcome)
		return outcome, nil
	}

	side := domain.SideSell
	if trigger.Signal == SignalBuy {
		side = domain.SideBuy
	}
	outcome.Side = side

	sizing := SizeOrder(trigger.DeltaPct, cfg.RebalanceRatio, cfg.DeltaCapPct, position.Quantity, position.Cash, price)
	outcome.RawQty = sizing.RawQty

	guardrail := ApplyGuardrail(side, sizing.RawQty, position.Quantity, position.Cash, price, cfg.MinStockPct, cfg.MaxStockPct)
	if guardrail.Blocked {
		outcome.Outcome = OutcomeBlocked
		outcome.Reason = guardrail.Reason
		c.finish(outcome)
		return outcome, nil
	}

	// Hard capacity ceiling: shares held for a sell, affordable shares
	// (commission included) for a buy. Applied before policy rounding so the
	// clip action cannot size past what the position can settle.
	capacity := position.Quantity
	if side == domain.SideBuy {
		capacity = position.Cash / (price * (1 + cfg.CommissionRate))
	}
	qty := guardrail.Qty
	if qty > capacity {
		qty = capacity
	}
	if qty <= 0 {
		outcome.Outcome = OutcomeSkipped
		outcome.Reason = "no capacity to trade"
		c.finish(outcome)
		return outcome, nil
	}

	policy := ApplyOrderPolicy(qty, price, capacity, cfg.OrderPolicy)
	req := SubmitRequest{
		PositionID:     position.ID,
		Side:           side,
		Qty:            policy.Qty,
		Price:          price,
		IdempotencyKey: idempotencyKey,
		TraceID:        outcome.TraceID,
	}

	switch policy.Action {
	case PolicyHold:
		outcome.Outcome = OutcomeSkipped
		outcome.Reason = policy.Reason
		c.finish(outcome)
		return outcome, nil

	case PolicyReject:
		result, err := c.ledger.Reject(req, policy.Reason)
		if err != nil {
			return nil, c.abort(outcome, "reject", err)
		}
		outcome.FinalQty = policy.Qty
		outcome.OrderID = result.OrderID
		outcome.Outcome = OutcomeRejected
		if result.Duplicate {
			outcome.Outcome = OutcomeDuplicate
		}
		outcome.Reason = result.Reason
		c.finish(outcome)
		return outcome, nil
	}

	outcome.FinalQty = policy.Qty
	if policy.Reason != "" {
		outcome.Reason = policy.Reason
	}

	submitted, err := c.ledger.Submit(req)
	if err != nil {
		return nil, c.abort(outcome, "submit", err)
	}
	outcome.OrderID = submitted.OrderID
	if submitted.Duplicate {
		outcome.Outcome = OutcomeDuplicate
		outcome.Reason = submitted.Reason
		c.finish(outcome)
		return outcome, nil
	}
	if submitted.Rejected {
		outcome.Outcome = OutcomeRejected
		outcome.Reason = submitted.Reason
		c.finish(outcome)
		return outcome, nil
	}

	// Paper fill at the observed price, applied atomically.
	fill, err := c.ledger.Execute(submitted.OrderID, policy.Qty, price, outcome.TraceID)
	if err != nil {
		return nil, c.abort(outcome, "execute", err)
	}
	outcome.Outcome = OutcomeExecuted
	outcome.FillPrice = fill.FillPrice
	outcome.Commission = fill.Commission
	c.finish(outcome)
	return outcome, nil
}

// finish emits the single terminal audit event for the cycle.
func (c *Cycle) finish(outcome *EvaluationOutcome) {
	c.events.Emit(outcome.TraceID, events.EvaluationCompleted, "engine",
		map[string]interface{}{
			"position_id": outcome.PositionID,
			"symbol":      outcome.Symbol,
			"price":       outcome.Price,
			"anchor":      outcome.Anchor,
		},
		map[string]interface{}{
			"outcome":    string(outcome.Outcome),
			"signal":     string(outcome.Signal),
			"delta_pct":  outcome.DeltaPct,
			"side":       string(outcome.Side),
			"raw_qty":    outcome.RawQty,
			"final_qty":  outcome.FinalQty,
			"order_id":   outcome.OrderID,
			"fill_price": outcome.FillPrice,
			"commission": outcome.Commission,
		},
		outcome.Reason,
	)

	c.log.Debug().
		Int64("position_id", outcome.PositionID).
		Str("outcome", string(outcome.Outcome)).
		Float64("delta_pct", outcome.DeltaPct).
		Msg("evaluation finished")
}

func (c *Cycle) abort(outcome *EvaluationOutcome, stage string, err error) error {
	c.events.Emit(outcome.TraceID, events.ErrorOccurred, "engine",
		map[string]interface{}{"position_id": outcome.PositionID, "stage": stage},
		nil, err.Error())
	return fmt.Errorf("evaluation %s failed: %w", stage, err)
}
