package simulation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avelios/anchor/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RunRepository persists completed runs msgpack-encoded in the cache
// database. Runs are immutable: saved once, never updated.
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "simulation_runs").Logger(),
	}
}

func (r *RunRepository) Save(run *Run) error {
	payload, err := msgpack.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO simulation_runs (id, ticker, resolution, start_ts, end_ts, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Config.Ticker, string(run.Config.Resolution),
		run.Config.Start.Unix(), run.Config.End.Unix(), payload, run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	r.log.Debug().Str("run_id", run.ID).Int("payload_bytes", len(payload)).Msg("run saved")
	return nil
}

func (r *RunRepository) Get(id string) (*Run, error) {
	var payload []byte
	err := r.db.QueryRow(`SELECT payload FROM simulation_runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var run Run
	if err := msgpack.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &run, nil
}

func (r *RunRepository) List(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, ticker, resolution, start_ts, end_ts, created_at
		FROM simulation_runs
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var s RunSummary
		var startTS, endTS, createdAt int64
		if err := rows.Scan(&s.ID, &s.Ticker, &s.Resolution, &startTS, &endTS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		s.Start = time.Unix(startTS, 0).UTC()
		s.End = time.Unix(endTS, 0).UTC()
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
