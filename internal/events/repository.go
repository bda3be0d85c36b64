package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository persists events in the ledger database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "events").Logger(),
	}
}

func (r *Repository) Append(event *Event) error {
	result, err := r.db.Exec(`
		INSERT INTO events (trace_id, type, module, inputs, outputs, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.TraceID, string(event.Type), event.Module,
		nullableStr(event.Inputs), nullableStr(event.Outputs), nullableStr(event.Reason),
		event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	event.ID, _ = result.LastInsertId()
	return nil
}

// ListRecent returns the newest events, optionally filtered by type.
func (r *Repository) ListRecent(eventType string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, trace_id, type, module, inputs, outputs, reason, created_at
		FROM events`
	args := []interface{}{}
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListByTraceID returns every event emitted under one trace, oldest first.
func (r *Repository) ListByTraceID(traceID string) ([]*Event, error) {
	rows, err := r.db.Query(`
		SELECT id, trace_id, type, module, inputs, outputs, reason, created_at
		FROM events
		WHERE trace_id = ?
		ORDER BY id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by trace: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var event Event
		var inputs, outputs, reason sql.NullString
		var createdAt int64
		if err := rows.Scan(&event.ID, &event.TraceID, &event.Type, &event.Module,
			&inputs, &outputs, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Inputs = inputs.String
		event.Outputs = outputs.String
		event.Reason = reason.String
		event.CreatedAt = time.Unix(createdAt, 0).UTC()
		events = append(events, &event)
	}
	return events, rows.Err()
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
