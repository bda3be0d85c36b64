package domain

import "time"

// Clock abstracts time for determinism. Live code uses SystemClock; the
// simulation orchestrator injects a clock that advances with the replayed
// samples so recorded timestamps match simulated time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation of Clock
type SystemClock struct{}

// Now returns the current wall-clock time
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a settable clock used by the simulation orchestrator and tests
type FixedClock struct {
	Current time.Time
}

// Now returns the configured time
func (c *FixedClock) Now() time.Time { return c.Current }

// Set advances the clock
func (c *FixedClock) Set(t time.Time) { c.Current = t }

// MarketData is the external market data collaborator. The engine never
// fetches prices itself; callers hand observations in, and the simulation
// orchestrator pulls historical series through this interface.
type MarketData interface {
	GetPrice(symbol string) (*PriceQuote, error)
	GetHistorical(symbol string, start, end time.Time, resolution Resolution) ([]PriceSample, error)
}

// PositionStore is the persistence contract for positions. Backed by SQLite
// in live trading and by an in-memory store inside a simulation run.
type PositionStore interface {
	Get(id int64) (*Position, error)
	GetActive() ([]Position, error)
	Create(p *Position) error
	Update(p *Position) error
}
