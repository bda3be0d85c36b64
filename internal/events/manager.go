package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Store persists events. Append-only: there is no update or delete.
type Store interface {
	Append(event *Event) error
}

// Manager records audit events and mirrors them to the structured log.
// A failed append is logged but never fails the operation that emitted it.
type Manager struct {
	store Store
	log   zerolog.Logger
}

func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log.With().Str("component", "events").Logger(),
	}
}

// Emit serializes inputs/outputs to JSON and appends the event. The
// caller's trace ID ties together every event from one evaluation cycle.
func (m *Manager) Emit(traceID string, eventType EventType, module string, inputs, outputs map[string]interface{}, reason string) {
	event := &Event{
		TraceID:   traceID,
		Type:      eventType,
		Module:    module,
		Inputs:    marshalPayload(inputs),
		Outputs:   marshalPayload(outputs),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.store.Append(event); err != nil {
		m.log.Error().Err(err).Str("type", string(eventType)).Msg("failed to append event")
	}

	m.log.Info().
		Str("trace_id", traceID).
		Str("type", string(eventType)).
		Str("module", module).
		Str("reason", reason).
		Msg("event")
}

func marshalPayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
