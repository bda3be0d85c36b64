package dividends

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

// SQLStore persists receivables in the ledger database, sharing it with
// positions so both mutating operations run in one transaction.
type SQLStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewSQLStore(db *sql.DB, log zerolog.Logger) *SQLStore {
	return &SQLStore{
		db:  db,
		log: log.With().Str("repo", "dividends").Logger(),
	}
}

const receivableColumns = `id, position_id, ex_date, pay_date, dividend_per_share,
	gross_amount, withholding_tax, net_amount, status, paid_at, created_at`

func (s *SQLStore) Get(id int64) (*Receivable, error) {
	row := s.db.QueryRow(`SELECT `+receivableColumns+` FROM dividend_receivables WHERE id = ?`, id)
	r, err := scanReceivable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receivable %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receivable %d: %w", id, err)
	}
	return r, nil
}

// GetByExDate returns the receivable for (position, ex_date), or nil when the
// ex-date has not been processed.
func (s *SQLStore) GetByExDate(positionID int64, exDate string) (*Receivable, error) {
	row := s.db.QueryRow(`SELECT `+receivableColumns+` FROM dividend_receivables WHERE position_id = ? AND ex_date = ?`,
		positionID, exDate)
	r, err := scanReceivable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up receivable: %w", err)
	}
	return r, nil
}

func (s *SQLStore) ListPending() ([]Receivable, error) {
	return s.list(`WHERE status = ?`, string(ReceivablePending))
}

func (s *SQLStore) ListByPosition(positionID int64) ([]Receivable, error) {
	return s.list(`WHERE position_id = ?`, positionID)
}

func (s *SQLStore) list(where string, args ...interface{}) ([]Receivable, error) {
	rows, err := s.db.Query(`SELECT `+receivableColumns+` FROM dividend_receivables `+where+` ORDER BY ex_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list receivables: %w", err)
	}
	defer rows.Close()

	var receivables []Receivable
	for rows.Next() {
		r, err := scanReceivable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receivable: %w", err)
		}
		receivables = append(receivables, *r)
	}
	return receivables, rows.Err()
}

func (s *SQLStore) ApplyExDividend(r *Receivable, position *domain.Position) error {
	configJSON, err := json.Marshal(position.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal position config: %w", err)
	}

	now := time.Now().UTC()
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO dividend_receivables (position_id, ex_date, pay_date, dividend_per_share,
				gross_amount, withholding_tax, net_amount, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.PositionID, r.ExDate, nullableStr(r.PayDate), r.DividendPerShare,
			r.GrossAmount, r.WithholdingTax, r.NetAmount, string(r.Status), now.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert receivable: %w", err)
		}
		r.ID, _ = res.LastInsertId()

		return updatePositionTx(tx, position, configJSON, now)
	})
	if err != nil {
		return err
	}
	r.CreatedAt = now
	return nil
}

func (s *SQLStore) ApplyPayment(r *Receivable, position *domain.Position) error {
	configJSON, err := json.Marshal(position.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal position config: %w", err)
	}

	now := time.Now().UTC()
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		var paidAt interface{}
		if r.PaidAt != nil {
			paidAt = r.PaidAt.Unix()
		}
		result, err := tx.Exec(`
			UPDATE dividend_receivables
			SET status = ?, pay_date = ?, paid_at = ?
			WHERE id = ? AND status = ?`,
			string(r.Status), nullableStr(r.PayDate), paidAt, r.ID, string(ReceivablePending))
		if err != nil {
			return fmt.Errorf("failed to update receivable: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("receivable %d: %w", r.ID, domain.ErrAlreadyPaid)
		}

		return updatePositionTx(tx, position, configJSON, now)
	})
}

func updatePositionTx(tx *sql.Tx, position *domain.Position, configJSON []byte, now time.Time) error {
	result, err := tx.Exec(`
		UPDATE positions
		SET quantity = ?, cash = ?, anchor_price = ?, avg_cost = ?,
			total_dividends_received = ?, dividend_receivable = ?, config_json = ?, updated_at = ?
		WHERE id = ?`,
		position.Quantity, position.Cash, position.AnchorPrice, position.AvgCost,
		position.TotalDividendsReceived, position.DividendReceivable, string(configJSON), now.Unix(), position.ID)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("position %d: %w", position.ID, domain.ErrNotFound)
	}
	return nil
}

func scanReceivable(row interface{ Scan(...interface{}) error }) (*Receivable, error) {
	var r Receivable
	var payDate sql.NullString
	var paidAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&r.ID, &r.PositionID, &r.ExDate, &payDate, &r.DividendPerShare,
		&r.GrossAmount, &r.WithholdingTax, &r.NetAmount, &r.Status, &paidAt, &createdAt)
	if err != nil {
		return nil, err
	}
	r.PayDate = payDate.String
	if paidAt.Valid {
		t := time.Unix(paidAt.Int64, 0).UTC()
		r.PaidAt = &t
	}
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &r, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
