package domain

import "errors"

// Sentinel errors for the decision engine. Business rejections (guardrail
// block, below-minimum order) are not errors - they come back as terminal
// evaluation outcomes. These errors cover validation failures, concurrency
// conflicts and integrity violations.
var (
	// ErrInvalidInput marks validation failures: non-positive prices,
	// unset anchor, malformed configuration.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks lookups of unknown positions, orders or receivables.
	// Fatal to the caller, never retried automatically.
	ErrNotFound = errors.New("not found")

	// ErrBusy is returned when a position already has an evaluation cycle in
	// flight. Safe to retry.
	ErrBusy = errors.New("position evaluation already in progress")

	// ErrAlreadyPaid is returned when payment processing is re-invoked on a
	// receivable that has already transitioned to PAID.
	ErrAlreadyPaid = errors.New("dividend receivable already paid")

	// ErrOrderTerminal is returned when execution is attempted against an
	// order in a terminal state.
	ErrOrderTerminal = errors.New("order is in a terminal state")

	// ErrInsufficientCash and ErrInsufficientShares mark sufficiency
	// rejections at submit time. Non-fatal, audited, no state mutation.
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
)
