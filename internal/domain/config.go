package domain

import "fmt"

// ActionBelowMin selects what happens when order-policy rounding leaves a
// quantity below the broker minimums.
type ActionBelowMin string

const (
	// BelowMinHold drops the order silently (audited as a skip).
	BelowMinHold ActionBelowMin = "hold"
	// BelowMinReject creates the order and immediately rejects it.
	BelowMinReject ActionBelowMin = "reject"
	// BelowMinClip raises the quantity to the smallest compliant size when
	// capacity allows, otherwise falls back to hold semantics.
	BelowMinClip ActionBelowMin = "clip"
)

// OrderPolicy holds broker order-sizing constraints
type OrderPolicy struct {
	MinQty         float64        `json:"min_qty"`
	MinNotional    float64        `json:"min_notional"`
	LotSize        float64        `json:"lot_size"`
	QtyStep        float64        `json:"qty_step"`
	ActionBelowMin ActionBelowMin `json:"action_below_min"`
}

// Validate checks order policy invariants
func (p *OrderPolicy) Validate() error {
	if p.MinQty < 0 || p.MinNotional < 0 || p.LotSize < 0 || p.QtyStep < 0 {
		return fmt.Errorf("%w: order policy fields must be non-negative", ErrInvalidInput)
	}
	switch p.ActionBelowMin {
	case BelowMinHold, BelowMinReject, BelowMinClip:
	case "":
		p.ActionBelowMin = BelowMinHold
	default:
		return fmt.Errorf("%w: unknown action_below_min %q", ErrInvalidInput, p.ActionBelowMin)
	}
	return nil
}

// PositionConfig holds the engine parameters of a position. Validated once at
// position creation/update; cycles only re-check basic ranges.
type PositionConfig struct {
	// TriggerUpPct fires a SELL when price deviates above the anchor by at
	// least this fraction (e.g. 0.03 = +3%). TriggerDownPct is negative or
	// zero and fires a BUY on the way down.
	TriggerUpPct   float64 `json:"trigger_up_pct"`
	TriggerDownPct float64 `json:"trigger_down_pct"`

	// Guardrail bounds on the stock allocation percentage, 0-100.
	MinStockPct float64 `json:"min_stock_pct"`
	MaxStockPct float64 `json:"max_stock_pct"`

	// RebalanceRatio scales the notional shift per unit of deviation.
	// DeltaCapPct optionally caps |delta_pct| before sizing; 0 = uncapped.
	RebalanceRatio float64 `json:"rebalance_ratio"`
	DeltaCapPct    float64 `json:"delta_cap_pct"`

	CommissionRate float64 `json:"commission_rate"`

	OrderPolicy OrderPolicy `json:"order_policy"`
}

// Validate checks configuration range invariants
func (c *PositionConfig) Validate() error {
	if c.TriggerUpPct <= 0 {
		return fmt.Errorf("%w: trigger_up_pct must be positive", ErrInvalidInput)
	}
	if c.TriggerDownPct > 0 {
		return fmt.Errorf("%w: trigger_down_pct must be negative or zero", ErrInvalidInput)
	}
	if c.MinStockPct < 0 || c.MaxStockPct > 100 || c.MinStockPct > c.MaxStockPct {
		return fmt.Errorf("%w: guardrail bounds must satisfy 0 <= min <= max <= 100", ErrInvalidInput)
	}
	if c.RebalanceRatio <= 0 {
		return fmt.Errorf("%w: rebalance_ratio must be positive", ErrInvalidInput)
	}
	if c.DeltaCapPct < 0 {
		return fmt.Errorf("%w: delta_cap_pct must be non-negative", ErrInvalidInput)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("%w: commission_rate must be in [0,1)", ErrInvalidInput)
	}
	return c.OrderPolicy.Validate()
}
