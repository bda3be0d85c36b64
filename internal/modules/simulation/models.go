// Package simulation replays historical prices through the live evaluation
// pipeline and derives performance metrics from the recorded trade log.
package simulation

import (
	"fmt"
	"time"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/events"
)

// DividendEvent is a dividend declaration replayed during a run. The ex-date
// adjustment is applied before the same day's price is evaluated; payment is
// credited on the first sample at or after the pay date.
type DividendEvent struct {
	ExDate           string  `json:"ex_date" msgpack:"ex_date"`
	PayDate          string  `json:"pay_date,omitempty" msgpack:"pay_date"`
	DividendPerShare float64 `json:"dividend_per_share" msgpack:"dividend_per_share"`
	TaxRate          float64 `json:"tax_rate" msgpack:"tax_rate"`
}

// Config defines one backtest invocation.
type Config struct {
	Ticker     string            `json:"ticker" msgpack:"ticker"`
	Start      time.Time         `json:"start" msgpack:"start"`
	End        time.Time         `json:"end" msgpack:"end"`
	Resolution domain.Resolution `json:"resolution" msgpack:"resolution"`

	InitialQty  float64 `json:"initial_qty" msgpack:"initial_qty"`
	InitialCash float64 `json:"initial_cash" msgpack:"initial_cash"`
	// AnchorPrice seeds the anchor; 0 uses the first sample's close.
	AnchorPrice float64 `json:"anchor_price,omitempty" msgpack:"anchor_price"`

	Engine    domain.PositionConfig `json:"engine" msgpack:"engine"`
	Dividends []DividendEvent       `json:"dividends,omitempty" msgpack:"dividends"`
}

// Validate checks the run parameters; the engine config validates itself.
func (c *Config) Validate() error {
	if c.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", domain.ErrInvalidInput)
	}
	if !c.End.After(c.Start) {
		return fmt.Errorf("%w: end must be after start", domain.ErrInvalidInput)
	}
	if c.InitialQty < 0 || c.InitialCash < 0 {
		return fmt.Errorf("%w: initial qty and cash must be non-negative", domain.ErrInvalidInput)
	}
	if c.InitialQty == 0 && c.InitialCash == 0 {
		return fmt.Errorf("%w: simulation needs initial qty or cash", domain.ErrInvalidInput)
	}
	if c.AnchorPrice < 0 {
		return fmt.Errorf("%w: anchor price must be non-negative", domain.ErrInvalidInput)
	}
	switch c.Resolution {
	case domain.ResolutionMinute, domain.Resolution5Minute, domain.ResolutionHourly, domain.ResolutionDaily:
	default:
		return fmt.Errorf("%w: unknown resolution %q", domain.ErrInvalidInput, c.Resolution)
	}
	return c.Engine.Validate()
}

// TradeRecord is one simulated fill, flattened with its side for metrics.
type TradeRecord struct {
	Side       domain.Side `json:"side" msgpack:"side"`
	Qty        float64     `json:"qty" msgpack:"qty"`
	Price      float64     `json:"price" msgpack:"price"`
	Commission float64     `json:"commission" msgpack:"commission"`
	ExecutedAt time.Time   `json:"executed_at" msgpack:"executed_at"`
}

// Metrics summarizes a run against buy-and-hold over the same window. All
// values derive deterministically from the recorded trade log and samples.
type Metrics struct {
	TotalReturnPct   float64 `json:"total_return_pct" msgpack:"total_return_pct"`
	BuyHoldReturnPct float64 `json:"buy_hold_return_pct" msgpack:"buy_hold_return_pct"`
	AlphaPct         float64 `json:"alpha_pct" msgpack:"alpha_pct"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct" msgpack:"max_drawdown_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	TradeCount       int     `json:"trade_count" msgpack:"trade_count"`
	WinRatePct       float64 `json:"win_rate_pct" msgpack:"win_rate_pct"`
	InitialValue     float64 `json:"initial_value" msgpack:"initial_value"`
	FinalValue       float64 `json:"final_value" msgpack:"final_value"`
}

// Run is one executed backtest: immutable once computed.
type Run struct {
	ID          string                     `json:"id" msgpack:"id"`
	Config      Config                     `json:"config" msgpack:"config"`
	Trades      []TradeRecord              `json:"trades" msgpack:"trades"`
	Outcomes    []engine.EvaluationOutcome `json:"outcomes" msgpack:"outcomes"`
	Events      []events.Event             `json:"events" msgpack:"events"`
	Metrics     Metrics                    `json:"metrics" msgpack:"metrics"`
	FinalQty    float64                    `json:"final_qty" msgpack:"final_qty"`
	FinalCash   float64                    `json:"final_cash" msgpack:"final_cash"`
	SampleCount int                        `json:"sample_count" msgpack:"sample_count"`
	CreatedAt   time.Time                  `json:"created_at" msgpack:"created_at"`
}

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID         string            `json:"id"`
	Ticker     string            `json:"ticker"`
	Resolution domain.Resolution `json:"resolution"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RunStore persists completed runs.
type RunStore interface {
	Save(run *Run) error
	Get(id string) (*Run, error)
	List(limit int) ([]RunSummary, error)
}
