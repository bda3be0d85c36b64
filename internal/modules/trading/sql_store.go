package trading

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avelios/anchor/internal/database"
	"github.com/avelios/anchor/internal/domain"
	"github.com/rs/zerolog"
)

// SQLStore is the SQLite-backed ledger store. Orders, trades and positions
// share the ledger database so ApplyFill is one transaction.
type SQLStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewSQLStore(db *sql.DB, log zerolog.Logger) *SQLStore {
	return &SQLStore{
		db:  db,
		log: log.With().Str("repo", "trading").Logger(),
	}
}

const orderColumns = `id, position_id, side, quantity, filled_qty, status, idempotency_key,
	commission_rate, commission_estimated, reason, trace_id, created_at, updated_at`

func (s *SQLStore) GetOrder(id string) (*Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return order, nil
}

func (s *SQLStore) GetOrderByKey(positionID int64, key string) (*Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE position_id = ? AND idempotency_key = ?`,
		positionID, key)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return order, nil
}

func (s *SQLStore) CreateOrder(o *Order) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO orders (id, position_id, side, quantity, filled_qty, status, idempotency_key,
			commission_rate, commission_estimated, reason, trace_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.PositionID, string(o.Side), o.Quantity, o.FilledQty, string(o.Status), nullableStr(o.IdempotencyKey),
		o.CommissionRate, o.CommissionEstimated, nullableStr(o.Reason), nullableStr(o.TraceID),
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	return nil
}

func (s *SQLStore) UpdateOrderStatus(id string, status OrderStatus) error {
	result, err := s.db.Exec(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ListOrders(positionID int64) ([]Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders WHERE position_id = ? ORDER BY created_at, id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (s *SQLStore) ListTrades(positionID int64) ([]Trade, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.order_id, t.quantity, t.price, t.commission, t.executed_at, t.created_at
		FROM trades t
		JOIN orders o ON o.id = t.order_id
		WHERE o.position_id = ?
		ORDER BY t.executed_at, t.id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var executedAt, createdAt int64
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Quantity, &t.Price, &t.Commission, &executedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.ExecutedAt = time.Unix(executedAt, 0).UTC()
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ApplyFill commits the trade, the order transition and the position
// mutation in one transaction. Either every row updates or none do.
func (s *SQLStore) ApplyFill(order *Order, trade *Trade, position *domain.Position) error {
	configJSON, err := json.Marshal(position.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal position config: %w", err)
	}

	now := time.Now().UTC()
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE orders SET status = ?, filled_qty = ?, updated_at = ? WHERE id = ?`,
			string(order.Status), order.FilledQty, now.Unix(), order.ID)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
		}

		res, err := tx.Exec(`
			INSERT INTO trades (order_id, quantity, price, commission, executed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			trade.OrderID, trade.Quantity, trade.Price, trade.Commission, trade.ExecutedAt.Unix(), now.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
		trade.ID, _ = res.LastInsertId()

		result, err = tx.Exec(`
			UPDATE positions
			SET quantity = ?, cash = ?, anchor_price = ?, avg_cost = ?,
				total_commission_paid = ?, config_json = ?, updated_at = ?
			WHERE id = ?`,
			position.Quantity, position.Cash, position.AnchorPrice, position.AvgCost,
			position.TotalCommissionPaid, string(configJSON), now.Unix(), position.ID)
		if err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("position %d: %w", position.ID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}

	trade.CreatedAt = now
	order.UpdatedAt = now
	return nil
}

func scanOrder(row interface{ Scan(...interface{}) error }) (*Order, error) {
	var o Order
	var key, reason, traceID sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&o.ID, &o.PositionID, &o.Side, &o.Quantity, &o.FilledQty, &o.Status, &key,
		&o.CommissionRate, &o.CommissionEstimated, &reason, &traceID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.IdempotencyKey = key.String
	o.Reason = reason.String
	o.TraceID = traceID.String
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &o, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
