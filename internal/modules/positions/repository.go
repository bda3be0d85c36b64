// Package positions owns the lifecycle and persistence of tracked positions.
package positions

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avelios/anchor/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists positions in the ledger database. It implements
// domain.PositionStore.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

const positionColumns = `id, symbol, status, quantity, cash, anchor_price, avg_cost,
	total_commission_paid, total_dividends_received, dividend_receivable,
	config_json, created_at, updated_at`

// Get returns the position by ID, or domain.ErrNotFound.
func (r *Repository) Get(id int64) (*domain.Position, error) {
	row := r.db.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	position, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	return position, nil
}

// GetActive returns all positions in ACTIVE status.
func (r *Repository) GetActive() ([]domain.Position, error) {
	return r.list(`WHERE status = ?`, string(domain.StatusActive))
}

// List returns all positions, archived ones excluded unless asked for.
func (r *Repository) List(includeArchived bool) ([]domain.Position, error) {
	if includeArchived {
		return r.list("")
	}
	return r.list(`WHERE status != ?`, string(domain.StatusArchived))
}

func (r *Repository) list(where string, args ...interface{}) ([]domain.Position, error) {
	rows, err := r.db.Query(`SELECT `+positionColumns+` FROM positions `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *position)
	}
	return positions, rows.Err()
}

// Create inserts the position and backfills its assigned ID and timestamps.
func (r *Repository) Create(p *domain.Position) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal position config: %w", err)
	}

	now := time.Now().UTC()
	result, err := r.db.Exec(`
		INSERT INTO positions (symbol, status, quantity, cash, anchor_price, avg_cost,
			total_commission_paid, total_dividends_received, dividend_receivable,
			config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Symbol, string(p.Status), p.Quantity, p.Cash, p.AnchorPrice, p.AvgCost,
		p.TotalCommissionPaid, p.TotalDividendsReceived, p.DividendReceivable,
		string(configJSON), now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}

	p.ID, _ = result.LastInsertId()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.log.Debug().Int64("id", p.ID).Str("symbol", p.Symbol).Msg("position created")
	return nil
}

// Update persists every mutable field of the position.
func (r *Repository) Update(p *domain.Position) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal position config: %w", err)
	}

	now := time.Now().UTC()
	result, err := r.db.Exec(`
		UPDATE positions
		SET symbol = ?, status = ?, quantity = ?, cash = ?, anchor_price = ?, avg_cost = ?,
			total_commission_paid = ?, total_dividends_received = ?, dividend_receivable = ?,
			config_json = ?, updated_at = ?
		WHERE id = ?`,
		p.Symbol, string(p.Status), p.Quantity, p.Cash, p.AnchorPrice, p.AvgCost,
		p.TotalCommissionPaid, p.TotalDividendsReceived, p.DividendReceivable,
		string(configJSON), now.Unix(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update position %d: %w", p.ID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("position %d: %w", p.ID, domain.ErrNotFound)
	}
	p.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var anchorPrice sql.NullFloat64
	var configJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.Symbol, &p.Status, &p.Quantity, &p.Cash, &anchorPrice, &p.AvgCost,
		&p.TotalCommissionPaid, &p.TotalDividendsReceived, &p.DividendReceivable,
		&configJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if anchorPrice.Valid {
		p.SetAnchor(anchorPrice.Float64)
	}
	if err := json.Unmarshal([]byte(configJSON), &p.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position config: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}
