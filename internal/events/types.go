package events

import "time"

// EventType identifies what happened during an evaluation or ledger operation.
type EventType string

const (
	EvaluationCompleted EventType = "evaluation.completed"
	OrderSubmitted      EventType = "order.submitted"
	OrderRejected       EventType = "order.rejected"
	OrderDuplicate      EventType = "order.duplicate_suppressed"
	TradeExecuted       EventType = "trade.executed"
	ExDividendApplied   EventType = "dividend.ex_applied"
	DividendPaid        EventType = "dividend.paid"
	PositionCreated     EventType = "position.created"
	PositionStarted     EventType = "position.started"
	PositionPaused      EventType = "position.paused"
	PositionArchived    EventType = "position.archived"
	SimulationCompleted EventType = "simulation.completed"
	BackupCompleted     EventType = "backup.completed"
	ErrorOccurred       EventType = "error.occurred"
)

// Event is one append-only audit record. Inputs and Outputs hold JSON
// snapshots of what the emitting module saw and decided, so a decision can
// be reconstructed without replaying market data.
type Event struct {
	ID        int64     `json:"id"`
	TraceID   string    `json:"trace_id"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Inputs    string    `json:"inputs,omitempty"`
	Outputs   string    `json:"outputs,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
