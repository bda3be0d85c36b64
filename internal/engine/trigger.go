// Package engine implements the volatility-rebalancing decision pipeline:
// trigger detection, order sizing, guardrail trimming, order-policy rounding,
// and the evaluation cycle that chains them for one price observation.
//
// The stages in this file and its siblings are pure functions. They never
// touch persistence, never fetch prices, and are safe to re-run; all state
// mutation happens in the ledger and dividend modules.
package engine

import (
	"fmt"

	"github.com/avelios/anchor/internal/domain"
)

// Signal classifies a price observation against the anchor.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// TriggerResult carries the detected signal and the deviation that produced it.
type TriggerResult struct {
	Signal   Signal
	DeltaPct float64 // (price - anchor) / anchor, as a fraction
}

// DetectTrigger compares the current price to the anchor against the
// configured thresholds. Boundary hits are inclusive: a deviation exactly at
// the threshold fires.
func DetectTrigger(currentPrice, anchorPrice, triggerUpPct, triggerDownPct float64) (TriggerResult, error) {
	if currentPrice <= 0 {
		return TriggerResult{}, fmt.Errorf("%w: current price must be positive, got %f", domain.ErrInvalidInput, currentPrice)
	}
	if anchorPrice <= 0 {
		return TriggerResult{}, fmt.Errorf("%w: anchor price must be positive, got %f", domain.ErrInvalidInput, anchorPrice)
	}

	deltaPct := (currentPrice - anchorPrice) / anchorPrice

	result := TriggerResult{Signal: SignalHold, DeltaPct: deltaPct}
	switch {
	case deltaPct <= triggerDownPct:
		result.Signal = SignalBuy
	case deltaPct >= triggerUpPct:
		result.Signal = SignalSell
	}
	return result, nil
}
