package engine

import (
	"fmt"
	"math"

	"github.com/avelios/anchor/internal/domain"
)

// PolicyAction is what the cycle should do after rounding.
type PolicyAction string

const (
	// PolicyProceed submits the rounded quantity.
	PolicyProceed PolicyAction = "proceed"
	// PolicyHold drops the order without creating one.
	PolicyHold PolicyAction = "hold"
	// PolicyReject creates the order and immediately rejects it.
	PolicyReject PolicyAction = "reject"
)

// PolicyResult is the rounded quantity plus the dispatch decision.
type PolicyResult struct {
	Qty    float64
	Action PolicyAction
	Reason string
}

// ApplyOrderPolicy rounds the trimmed quantity down to the broker's step and
// lot sizes, then dispatches on the configured below-minimum action when the
// result falls under min_qty or min_notional. capacity is the hard ceiling in
// shares (available shares for a sell, affordable shares for a buy) used by
// the clip action; clipping past capacity falls back to hold.
func ApplyOrderPolicy(qty, price, capacity float64, policy domain.OrderPolicy) PolicyResult {
	rounded := floorToStep(qty, policy.QtyStep)
	rounded = floorToStep(rounded, policy.LotSize)

	if rounded <= 0 {
		return PolicyResult{Action: PolicyHold, Reason: "quantity rounds to zero"}
	}

	belowMin, minReason := belowMinimums(rounded, price, policy)
	if !belowMin {
		return PolicyResult{Qty: rounded, Action: PolicyProceed}
	}

	switch policy.ActionBelowMin {
	case domain.BelowMinReject:
		return PolicyResult{Qty: rounded, Action: PolicyReject, Reason: minReason}
	case domain.BelowMinClip:
		clipped := clipToMinimums(price, policy)
		if clipped > 0 && clipped <= capacity+1e-9 {
			return PolicyResult{
				Qty:    clipped,
				Action: PolicyProceed,
				Reason: fmt.Sprintf("clipped %.4f up to minimum size %.4f", rounded, clipped),
			}
		}
		return PolicyResult{Action: PolicyHold, Reason: minReason + "; no capacity to clip"}
	default:
		return PolicyResult{Action: PolicyHold, Reason: minReason}
	}
}

func belowMinimums(qty, price float64, policy domain.OrderPolicy) (bool, string) {
	if policy.MinQty > 0 && qty < policy.MinQty {
		return true, fmt.Sprintf("quantity %.4f below min_qty %.4f", qty, policy.MinQty)
	}
	if policy.MinNotional > 0 && qty*price < policy.MinNotional {
		return true, fmt.Sprintf("notional %.2f below min_notional %.2f", qty*price, policy.MinNotional)
	}
	return false, ""
}

// clipToMinimums returns the smallest step/lot-compliant quantity satisfying
// both minimums, or 0 when the policy defines no minimum to clip to.
func clipToMinimums(price float64, policy domain.OrderPolicy) float64 {
	target := policy.MinQty
	if policy.MinNotional > 0 && price > 0 {
		if byNotional := policy.MinNotional / price; byNotional > target {
			target = byNotional
		}
	}
	if target <= 0 {
		return 0
	}
	clipped := ceilToStep(target, policy.QtyStep)
	return ceilToStep(clipped, policy.LotSize)
}

func floorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step+1e-9) * step
}

func ceilToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Ceil(qty/step-1e-9) * step
}
