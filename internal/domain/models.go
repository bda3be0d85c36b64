// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side represents the direction of an order or trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFromString parses a trade side, accepting any casing
func SideFromString(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side: %q", s)
	}
}

// PositionStatus represents the lifecycle state of a tracked position
type PositionStatus string

const (
	StatusPaused   PositionStatus = "PAUSED"
	StatusActive   PositionStatus = "ACTIVE"
	StatusArchived PositionStatus = "ARCHIVED"
)

// Position represents one tracked holding: quantity, position-scoped cash,
// and the anchor price the trigger thresholds are measured against.
//
// The anchor price is mutated only by trade execution (reset to the fill
// price) and by ex-dividend adjustment. Every other field mutation goes
// through the ledger or the dividend processor.
type Position struct {
	ID                     int64          `json:"id"`
	Symbol                 string         `json:"symbol"`
	Status                 PositionStatus `json:"status"`
	Quantity               float64        `json:"quantity"`
	Cash                   float64        `json:"cash"`
	AnchorPrice            *float64       `json:"anchor_price"` // nil until initialized
	AvgCost                float64        `json:"avg_cost"`
	TotalCommissionPaid    float64        `json:"total_commission_paid"`
	TotalDividendsReceived float64        `json:"total_dividends_received"`
	DividendReceivable     float64        `json:"dividend_receivable"`
	Config                 PositionConfig `json:"config"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// Anchor returns the anchor price, or 0 if unset
func (p *Position) Anchor() float64 {
	if p.AnchorPrice == nil {
		return 0
	}
	return *p.AnchorPrice
}

// SetAnchor replaces the anchor price
func (p *Position) SetAnchor(price float64) {
	p.AnchorPrice = &price
}

// MarketValue returns the position value at the given price, cash included
func (p *Position) MarketValue(price float64) float64 {
	return p.Quantity*price + p.Cash
}

// StockPct returns the stock allocation percentage (0-100) at the given price
func (p *Position) StockPct(price float64) float64 {
	total := p.MarketValue(price)
	if total <= 0 {
		return 0
	}
	return p.Quantity * price / total * 100
}

// CanStart reports whether the position satisfies the ACTIVE preconditions:
// anchor initialized and something to trade with (cash or shares).
func (p *Position) CanStart() error {
	if p.AnchorPrice == nil || *p.AnchorPrice <= 0 {
		return fmt.Errorf("%w: anchor price must be set before starting", ErrInvalidInput)
	}
	if p.Cash <= 0 && p.Quantity <= 0 {
		return fmt.Errorf("%w: position needs cash or shares to start", ErrInvalidInput)
	}
	return nil
}

// PriceQuote is a single observed market price
type PriceQuote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
	IsMarketHours bool      `json:"is_market_hours"`
}

// Resolution is a historical sampling resolution
type Resolution string

const (
	ResolutionMinute  Resolution = "1m"
	Resolution5Minute Resolution = "5m"
	ResolutionHourly  Resolution = "1h"
	ResolutionDaily   Resolution = "1d"
)

// Period returns the sample duration of the resolution
func (r Resolution) Period() time.Duration {
	switch r {
	case ResolutionMinute:
		return time.Minute
	case Resolution5Minute:
		return 5 * time.Minute
	case ResolutionHourly:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// PeriodsPerYear returns the number of samples per trading year,
// used to annualize per-period return statistics.
func (r Resolution) PeriodsPerYear() float64 {
	const tradingDays = 252.0
	switch r {
	case ResolutionMinute:
		return tradingDays * 390 // 6.5h session
	case Resolution5Minute:
		return tradingDays * 78
	case ResolutionHourly:
		return tradingDays * 6.5
	default:
		return tradingDays
	}
}

// PriceSample is one OHLC sample of a historical series
type PriceSample struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
