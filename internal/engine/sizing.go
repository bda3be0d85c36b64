package engine

import "math"

// SizingResult is the raw order size before guardrails and policy rounding.
type SizingResult struct {
	RawQty     float64
	Notional   float64
	TotalValue float64
	// EffectiveDelta is |delta_pct| after the optional cap was applied.
	EffectiveDelta float64
}

// SizeOrder turns a detected trigger into a raw quantity. The target notional
// shift is rebalance_ratio x |delta_pct| x total position value, with
// |delta_pct| capped at deltaCapPct when that is non-zero. Guardrails are not
// consulted here; trimming is the guardrail evaluator's job.
func SizeOrder(deltaPct, rebalanceRatio, deltaCapPct, qty, cash, currentPrice float64) SizingResult {
	effectiveDelta := math.Abs(deltaPct)
	if deltaCapPct > 0 && effectiveDelta > deltaCapPct {
		effectiveDelta = deltaCapPct
	}

	totalValue := qty*currentPrice + cash
	notional := rebalanceRatio * effectiveDelta * totalValue

	return SizingResult{
		RawQty:         notional / currentPrice,
		Notional:       notional,
		TotalValue:     totalValue,
		EffectiveDelta: effectiveDelta,
	}
}
