package trading

import (
	"fmt"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerService is the position state machine behind the evaluation cycle.
// Submit validates sufficiency and resolves idempotency keys; Execute applies
// paper fills atomically. It implements engine.Ledger.
type LedgerService struct {
	store     Store
	positions domain.PositionStore
	events    *events.Manager
	clock     domain.Clock
	log       zerolog.Logger
}

func NewLedgerService(store Store, positions domain.PositionStore, events *events.Manager, clock domain.Clock, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:     store,
		positions: positions,
		events:    events,
		clock:     clock,
		log:       log.With().Str("service", "ledger").Logger(),
	}
}

// Submit creates and submits an order for the position. A previously resolved
// idempotency key replays the stored outcome: no new order, no position
// mutation, only a duplicate-suppressed audit note.
func (s *LedgerService) Submit(req engine.SubmitRequest) (*engine.SubmitResult, error) {
	if req.Qty <= 0 || req.Price <= 0 {
		return nil, fmt.Errorf("%w: quantity and price must be positive", domain.ErrInvalidInput)
	}

	if prior, err := s.resolveKey(req); err != nil || prior != nil {
		return prior, err
	}

	position, err := s.positions.Get(req.PositionID)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:                  uuid.NewString(),
		PositionID:          req.PositionID,
		Side:                req.Side,
		Quantity:            req.Qty,
		Status:              OrderCreated,
		IdempotencyKey:      req.IdempotencyKey,
		CommissionRate:      position.Config.CommissionRate,
		CommissionEstimated: req.Qty * req.Price * position.Config.CommissionRate,
		TraceID:             req.TraceID,
	}

	if reason := s.checkSufficiency(position, req); reason != "" {
		order.Status = OrderRejected
		order.Reason = reason
		if err := s.store.CreateOrder(order); err != nil {
			return nil, err
		}
		s.events.Emit(req.TraceID, events.OrderRejected, "trading",
			submitInputs(req), map[string]interface{}{"order_id": order.ID}, reason)
		return &engine.SubmitResult{OrderID: order.ID, Status: string(OrderRejected), Rejected: true, Reason: reason}, nil
	}

	if err := s.store.CreateOrder(order); err != nil {
		return nil, err
	}
	if err := s.store.UpdateOrderStatus(order.ID, OrderSubmitted); err != nil {
		return nil, err
	}

	s.events.Emit(req.TraceID, events.OrderSubmitted, "trading",
		submitInputs(req),
		map[string]interface{}{"order_id": order.ID, "commission_estimated": order.CommissionEstimated}, "")
	return &engine.SubmitResult{OrderID: order.ID, Status: string(OrderSubmitted)}, nil
}

// Reject records an order that policy rounding rejected before submission.
// The rejection is stored under the idempotency key so a replay returns the
// original outcome.
func (s *LedgerService) Reject(req engine.SubmitRequest, reason string) (*engine.SubmitResult, error) {
	if prior, err := s.resolveKey(req); err != nil || prior != nil {
		return prior, err
	}

	position, err := s.positions.Get(req.PositionID)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:             uuid.NewString(),
		PositionID:     req.PositionID,
		Side:           req.Side,
		Quantity:       req.Qty,
		Status:         OrderRejected,
		IdempotencyKey: req.IdempotencyKey,
		CommissionRate: position.Config.CommissionRate,
		Reason:         reason,
		TraceID:        req.TraceID,
	}
	if err := s.store.CreateOrder(order); err != nil {
		return nil, err
	}

	s.events.Emit(req.TraceID, events.OrderRejected, "trading",
		submitInputs(req), map[string]interface{}{"order_id": order.ID}, reason)
	return &engine.SubmitResult{OrderID: order.ID, Status: string(OrderRejected), Rejected: true, Reason: reason}, nil
}

// Execute applies a fill to the order's position: records the trade, updates
// quantity, cash and average cost, resets the anchor to the fill price and
// accumulates commission. The whole mutation is atomic.
func (s *LedgerService) Execute(orderID string, fillQty, fillPrice float64, traceID string) (*engine.ExecuteResult, error) {
	if fillQty <= 0 || fillPrice <= 0 {
		return nil, fmt.Errorf("%w: fill quantity and price must be positive", domain.ErrInvalidInput)
	}

	order, err := s.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrOrderTerminal)
	}
	filled := order.FilledQty + fillQty
	if filled > order.Quantity+1e-9 {
		return nil, fmt.Errorf("%w: cumulative fill %.4f exceeds order quantity %.4f",
			domain.ErrInvalidInput, filled, order.Quantity)
	}

	position, err := s.positions.Get(order.PositionID)
	if err != nil {
		return nil, err
	}

	commission := fillQty * fillPrice * order.CommissionRate
	notional := fillQty * fillPrice

	switch order.Side {
	case domain.SideBuy:
		if position.Cash < notional+commission {
			return nil, fmt.Errorf("%w: need %.2f, have %.2f", domain.ErrInsufficientCash, notional+commission, position.Cash)
		}
		newQty := position.Quantity + fillQty
		position.AvgCost = (position.Quantity*position.AvgCost + notional) / newQty
		position.Quantity = newQty
		position.Cash -= notional + commission
	case domain.SideSell:
		if position.Quantity < fillQty {
			return nil, fmt.Errorf("%w: need %.4f, have %.4f", domain.ErrInsufficientShares, fillQty, position.Quantity)
		}
		position.Quantity -= fillQty
		position.Cash += notional - commission
	}

	position.SetAnchor(fillPrice)
	position.TotalCommissionPaid += commission

	order.FilledQty = filled
	order.Status = OrderFilled
	if filled < order.Quantity-1e-9 {
		order.Status = OrderPartial
	}

	trade := &Trade{
		OrderID:    orderID,
		Quantity:   fillQty,
		Price:      fillPrice,
		Commission: commission,
		ExecutedAt: s.clock.Now().UTC(),
	}
	if err := s.store.ApplyFill(order, trade, position); err != nil {
		return nil, err
	}

	s.events.Emit(traceID, events.TradeExecuted, "trading",
		map[string]interface{}{"order_id": orderID, "side": string(order.Side)},
		map[string]interface{}{
			"trade_id":   trade.ID,
			"quantity":   fillQty,
			"price":      fillPrice,
			"commission": commission,
			"new_anchor": fillPrice,
			"cash":       position.Cash,
		}, "")

	s.log.Info().
		Str("order_id", orderID).
		Str("side", string(order.Side)).
		Float64("qty", fillQty).
		Float64("price", fillPrice).
		Msg("trade executed")

	return &engine.ExecuteResult{TradeID: trade.ID, FillQty: fillQty, FillPrice: fillPrice, Commission: commission}, nil
}

// Orders returns the order history of a position.
func (s *LedgerService) Orders(positionID int64) ([]Order, error) {
	return s.store.ListOrders(positionID)
}

// Trades returns the executed fills of a position, oldest first.
func (s *LedgerService) Trades(positionID int64) ([]Trade, error) {
	return s.store.ListTrades(positionID)
}

// resolveKey returns the stored outcome when the request's idempotency key is
// already resolved for the position, nil otherwise.
func (s *LedgerService) resolveKey(req engine.SubmitRequest) (*engine.SubmitResult, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	prior, err := s.store.GetOrderByKey(req.PositionID, req.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, err
	}

	s.events.Emit(req.TraceID, events.OrderDuplicate, "trading",
		map[string]interface{}{"position_id": req.PositionID, "idempotency_key": req.IdempotencyKey},
		map[string]interface{}{"order_id": prior.ID, "status": string(prior.Status)},
		"duplicate suppressed")

	return &engine.SubmitResult{
		OrderID:   prior.ID,
		Status:    string(prior.Status),
		Duplicate: true,
		Rejected:  prior.Status == OrderRejected,
		Reason:    prior.Reason,
	}, nil
}

func (s *LedgerService) checkSufficiency(position *domain.Position, req engine.SubmitRequest) string {
	switch req.Side {
	case domain.SideBuy:
		required := req.Qty * req.Price * (1 + position.Config.CommissionRate)
		if position.Cash < required {
			return fmt.Sprintf("insufficient cash: need %.2f, have %.2f", required, position.Cash)
		}
	case domain.SideSell:
		if position.Quantity < req.Qty {
			return fmt.Sprintf("insufficient shares: need %.4f, have %.4f", req.Qty, position.Quantity)
		}
	}
	return ""
}

func submitInputs(req engine.SubmitRequest) map[string]interface{} {
	return map[string]interface{}{
		"position_id":     req.PositionID,
		"side":            string(req.Side),
		"quantity":        req.Qty,
		"price":           req.Price,
		"idempotency_key": req.IdempotencyKey,
	}
}
