package engine

import (
	"fmt"

	"github.com/avelios/anchor/internal/domain"
)

// GuardrailResult is the outcome of simulating a candidate trade against the
// allocation bounds.
type GuardrailResult struct {
	Qty     float64
	Blocked bool
	Trimmed bool
	PrePct  float64
	PostPct float64
	Reason  string
}

// ApplyGuardrail simulates the post-trade stock allocation and trims the
// quantity so it lands exactly on a violated boundary instead of crossing it.
// A trade whose pre-trade allocation is already at or beyond the boundary it
// is moving toward is blocked outright with zero quantity.
//
// Allocation is evaluated at the observed price on both sides of the trade,
// so total value is conserved and commission is ignored here; the sufficiency
// check at submit time accounts for commission.
func ApplyGuardrail(side domain.Side, rawQty, qty, cash, price, minStockPct, maxStockPct float64) GuardrailResult {
	totalValue := qty*price + cash
	if totalValue <= 0 {
		return GuardrailResult{Blocked: true, Reason: "position has no value"}
	}

	prePct := qty * price / totalValue * 100

	var postQty float64
	if side == domain.SideBuy {
		postQty = qty + rawQty
	} else {
		postQty = qty - rawQty
	}
	if postQty < 0 {
		postQty = 0
	}
	postPct := postQty * price / totalValue * 100

	result := GuardrailResult{Qty: rawQty, PrePct: prePct, PostPct: postPct}

	switch side {
	case domain.SideBuy:
		if prePct >= maxStockPct {
			result.Qty = 0
			result.Blocked = true
			result.PostPct = prePct
			result.Reason = fmt.Sprintf("allocation %.2f%% already at or above max %.2f%%", prePct, maxStockPct)
			return result
		}
		if postPct > maxStockPct {
			trimmed := (maxStockPct/100*totalValue - qty*price) / price
			result.Qty = trimmed
			result.Trimmed = true
			result.PostPct = maxStockPct
			result.Reason = fmt.Sprintf("trimmed buy from %.4f to %.4f to hold max allocation %.2f%%", rawQty, trimmed, maxStockPct)
		}
	case domain.SideSell:
		if prePct <= minStockPct {
			result.Qty = 0
			result.Blocked = true
			result.PostPct = prePct
			result.Reason = fmt.Sprintf("allocation %.2f%% already at or below min %.2f%%", prePct, minStockPct)
			return result
		}
		if postPct < minStockPct {
			trimmed := (qty*price - minStockPct/100*totalValue) / price
			result.Qty = trimmed
			result.Trimmed = true
			result.PostPct = minStockPct
			result.Reason = fmt.Sprintf("trimmed sell from %.4f to %.4f to hold min allocation %.2f%%", rawQty, trimmed, minStockPct)
		}
	}

	if result.Qty <= 0 {
		result.Qty = 0
		result.Blocked = true
		if result.Reason == "" {
			result.Reason = "nothing left to trade after trim"
		}
	}
	return result
}
