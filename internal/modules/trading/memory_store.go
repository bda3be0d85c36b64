package trading

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avelios/anchor/internal/domain"
)

// MemoryStore is the in-memory ledger store used by simulation runs. It keeps
// the same semantics as SQLStore, including the idempotency-key constraint
// and the all-or-nothing fill, without touching disk.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]*Order
	trades    []Trade
	positions domain.PositionStore
	nextTrade int64
}

// NewMemoryStore wires the store to the position store it mutates on fills,
// normally the simulation's own in-memory position store.
func NewMemoryStore(positions domain.PositionStore) *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*Order),
		positions: positions,
		nextTrade: 1,
	}
}

func (m *MemoryStore) GetOrder(id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	copied := *order
	return &copied, nil
}

func (m *MemoryStore) GetOrderByKey(positionID int64, key string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.PositionID == positionID && order.IdempotencyKey == key {
			copied := *order
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateOrder(o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if o.IdempotencyKey != "" {
		for _, prior := range m.orders {
			if prior.PositionID == o.PositionID && prior.IdempotencyKey == o.IdempotencyKey {
				return fmt.Errorf("idempotency key %q already resolved for position %d", o.IdempotencyKey, o.PositionID)
			}
		}
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	copied := *o
	m.orders[o.ID] = &copied
	return nil
}

func (m *MemoryStore) UpdateOrderStatus(id string, status OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListOrders(positionID int64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, order := range m.orders {
		if order.PositionID == positionID {
			out = append(out, *order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListTrades(positionID int64) ([]Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trade
	for _, trade := range m.trades {
		if order, ok := m.orders[trade.OrderID]; ok && order.PositionID == positionID {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (m *MemoryStore) ApplyFill(order *Order, trade *Trade, position *domain.Position) error {
	m.mu.Lock()
	stored, ok := m.orders[order.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}

	trade.ID = m.nextTrade
	trade.CreatedAt = time.Now().UTC()
	m.nextTrade++
	m.trades = append(m.trades, *trade)
	stored.Status = order.Status
	stored.FilledQty = order.FilledQty
	stored.UpdatedAt = trade.CreatedAt
	m.mu.Unlock()

	return m.positions.Update(position)
}
