package engine

import (
	"testing"

	"github.com/avelios/anchor/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestApplyOrderPolicy(t *testing.T) {
	base := domain.OrderPolicy{
		MinQty:         1,
		LotSize:        1,
		QtyStep:        1,
		ActionBelowMin: domain.BelowMinHold,
	}

	t.Run("floors to step and lot", func(t *testing.T) {
		got := ApplyOrderPolicy(5.1649, 97, 100, base)
		assert.Equal(t, PolicyProceed, got.Action)
		assert.InDelta(t, 5, got.Qty, 1e-9)
	})

	t.Run("lot size coarser than step wins", func(t *testing.T) {
		policy := base
		policy.QtyStep = 1
		policy.LotSize = 10
		got := ApplyOrderPolicy(27.8, 50, 1000, policy)
		assert.Equal(t, PolicyProceed, got.Action)
		assert.InDelta(t, 20, got.Qty, 1e-9)
	})

	t.Run("fractional step", func(t *testing.T) {
		policy := base
		policy.QtyStep = 0.1
		policy.LotSize = 0
		policy.MinQty = 0
		got := ApplyOrderPolicy(2.37, 100, 100, policy)
		assert.Equal(t, PolicyProceed, got.Action)
		assert.InDelta(t, 2.3, got.Qty, 1e-9)
	})

	t.Run("rounds to zero holds regardless of action", func(t *testing.T) {
		policy := base
		policy.ActionBelowMin = domain.BelowMinReject
		got := ApplyOrderPolicy(0.7, 100, 100, policy)
		assert.Equal(t, PolicyHold, got.Action)
		assert.Zero(t, got.Qty)
	})

	t.Run("below min_qty with hold", func(t *testing.T) {
		policy := base
		policy.MinQty = 10
		got := ApplyOrderPolicy(5.9, 100, 100, policy)
		assert.Equal(t, PolicyHold, got.Action)
		assert.Contains(t, got.Reason, "below min_qty")
	})

	t.Run("below min_notional with reject keeps rounded qty", func(t *testing.T) {
		policy := base
		policy.MinNotional = 1000
		got := ApplyOrderPolicy(5.9, 100, 100, policy)
		assert.Equal(t, PolicyReject, got.Action)
		assert.InDelta(t, 5, got.Qty, 1e-9)
		assert.Contains(t, got.Reason, "below min_notional")
	})

	t.Run("clip raises to minimum when capacity allows", func(t *testing.T) {
		policy := base
		policy.MinQty = 10
		policy.ActionBelowMin = domain.BelowMinClip
		got := ApplyOrderPolicy(5.9, 100, 50, policy)
		assert.Equal(t, PolicyProceed, got.Action)
		assert.InDelta(t, 10, got.Qty, 1e-9)
		assert.Contains(t, got.Reason, "clipped")
	})

	t.Run("clip satisfies min_notional on lot boundary", func(t *testing.T) {
		policy := base
		policy.MinNotional = 1050
		policy.LotSize = 5
		policy.ActionBelowMin = domain.BelowMinClip
		// 1050/100 = 10.5 shares, next lot of 5 is 15.
		got := ApplyOrderPolicy(7, 100, 50, policy)
		assert.Equal(t, PolicyProceed, got.Action)
		assert.InDelta(t, 15, got.Qty, 1e-9)
	})

	t.Run("clip without capacity falls back to hold", func(t *testing.T) {
		policy := base
		policy.MinQty = 10
		policy.ActionBelowMin = domain.BelowMinClip
		got := ApplyOrderPolicy(5.9, 100, 8, policy)
		assert.Equal(t, PolicyHold, got.Action)
		assert.Contains(t, got.Reason, "no capacity")
	})

	t.Run("no constraints passes through", func(t *testing.T) {
		got := ApplyOrderPolicy(3.333, 100, 100, domain.OrderPolicy{})
		assert.Equal(t, PolicyProceed, got.Action)
		assert.InDelta(t, 3.333, got.Qty, 1e-9)
	})
}
