// Package trading implements the idempotent order/trade ledger: order
// submission keyed by client-supplied idempotency keys, and atomic fill
// application that mutates the position in the same transaction.
package trading

import (
	"time"

	"github.com/avelios/anchor/internal/domain"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderSubmitted OrderStatus = "submitted"
	OrderPending   OrderStatus = "pending"
	OrderWorking   OrderStatus = "working"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal orders are never
// transitioned again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

// Order is a sizing decision submitted for execution.
type Order struct {
	ID         string      `json:"id"`
	PositionID int64       `json:"position_id"`
	Side       domain.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	// FilledQty is the cumulative quantity executed so far; fills that
	// would push it past Quantity are rejected.
	FilledQty float64     `json:"filled_qty"`
	Status    OrderStatus `json:"status"`
	// IdempotencyKey is unique per position when present; a resolved key
	// replays the stored outcome instead of creating a second order.
	IdempotencyKey      string    `json:"idempotency_key,omitempty"`
	CommissionRate      float64   `json:"commission_rate"`
	CommissionEstimated float64   `json:"commission_estimated"`
	Reason              string    `json:"reason,omitempty"`
	TraceID             string    `json:"trace_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Trade is an executed fill of an order.
type Trade struct {
	ID         int64     `json:"id"`
	OrderID    string    `json:"order_id"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	ExecutedAt time.Time `json:"executed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the ledger persistence contract. Backed by SQLite in live trading
// and by MemoryStore inside a simulation run.
type Store interface {
	GetOrder(id string) (*Order, error)
	// GetOrderByKey returns the order holding the idempotency key for the
	// position, or nil when the key is unresolved.
	GetOrderByKey(positionID int64, key string) (*Order, error)
	CreateOrder(o *Order) error
	UpdateOrderStatus(id string, status OrderStatus) error
	ListOrders(positionID int64) ([]Order, error)
	ListTrades(positionID int64) ([]Trade, error)
	// ApplyFill records the trade, moves the order to its new status and
	// persists the mutated position, all of it atomically.
	ApplyFill(order *Order, trade *Trade, position *domain.Position) error
}
