// Package history stores historical price samples for backtesting.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/avelios/anchor/internal/database"
	"github.com/avelios/anchor/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists OHLC samples in the history database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// Upsert stores samples, replacing any existing row for the same
// (symbol, resolution, timestamp).
func (r *Repository) Upsert(resolution domain.Resolution, samples []domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO price_samples (symbol, resolution, ts, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare sample insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range samples {
			if _, err := stmt.Exec(s.Symbol, string(resolution), s.Timestamp.Unix(),
				s.Open, s.High, s.Low, s.Close, s.Volume); err != nil {
				return fmt.Errorf("failed to insert sample %s@%d: %w", s.Symbol, s.Timestamp.Unix(), err)
			}
		}
		return nil
	})
}

// GetRange returns samples for the symbol in [start, end], oldest first.
func (r *Repository) GetRange(symbol string, start, end time.Time, resolution domain.Resolution) ([]domain.PriceSample, error) {
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume
		FROM price_samples
		WHERE symbol = ? AND resolution = ? AND ts BETWEEN ? AND ?
		ORDER BY ts`,
		symbol, string(resolution), start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.PriceSample
	for rows.Next() {
		var s domain.PriceSample
		var ts int64
		if err := rows.Scan(&s.Symbol, &ts, &s.Open, &s.High, &s.Low, &s.Close, &s.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.Timestamp = time.Unix(ts, 0).UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Count returns the number of stored samples for a symbol and resolution.
func (r *Repository) Count(symbol string, resolution domain.Resolution) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM price_samples WHERE symbol = ? AND resolution = ?`,
		symbol, string(resolution)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}
