package testing

import (
	"time"

	"github.com/avelios/anchor/internal/domain"
)

// NewPositionFixture returns an active position with sensible defaults for
// tests. Callers mutate the returned struct to set up their scenario.
func NewPositionFixture() *domain.Position {
	anchor := 100.0
	now := time.Now().UTC()
	return &domain.Position{
		ID:          1,
		Symbol:      "AAPL",
		Status:      domain.StatusActive,
		Quantity:    100,
		Cash:        10000,
		AnchorPrice: &anchor,
		AvgCost:     100,
		Config:      NewConfigFixture(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewConfigFixture returns a position config with 10% symmetric triggers,
// 30-70% guardrails and a 0.5 rebalance ratio.
func NewConfigFixture() domain.PositionConfig {
	return domain.PositionConfig{
		TriggerUpPct:   0.10,
		TriggerDownPct: -0.10,
		MinStockPct:    30,
		MaxStockPct:    70,
		RebalanceRatio: 0.5,
		CommissionRate: 0.001,
		OrderPolicy: domain.OrderPolicy{
			MinQty:         1,
			LotSize:        1,
			QtyStep:        1,
			ActionBelowMin: domain.BelowMinHold,
		},
	}
}
