package dividends

import (
	"errors"
	"fmt"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAlreadyProcessed is returned when an ex-dividend date is processed a
// second time for the same position.
var ErrAlreadyProcessed = errors.New("ex-dividend date already processed")

// Processor applies dividend events to positions. The ex-dividend anchor
// adjustment must complete before any trigger evaluation uses the same day's
// price; callers (scheduler, simulation) enforce that ordering. Mutations
// hold the position's evaluation lock so they never interleave with an
// in-flight cycle.
type Processor struct {
	store     Store
	positions domain.PositionStore
	events    *events.Manager
	clock     domain.Clock
	locks     *domain.PositionLocks
	log       zerolog.Logger
}

// NewProcessor wires the processor to the same lock registry as the
// evaluation cycle, normally cycle.Locks().
func NewProcessor(store Store, positions domain.PositionStore, events *events.Manager, clock domain.Clock, locks *domain.PositionLocks, log zerolog.Logger) *Processor {
	return &Processor{
		store:     store,
		positions: positions,
		events:    events,
		clock:     clock,
		locks:     locks,
		log:       log.With().Str("service", "dividends").Logger(),
	}
}

// ProcessExDividend lowers the anchor by the dividend per share and books a
// PENDING receivable for the net amount. payDate may be empty when the payment
// date is not yet announced; the scheduler settles dated receivables once the
// date arrives. Reprocessing the same ex-date is rejected, never
// double-applied.
func (p *Processor) ProcessExDividend(positionID int64, exDate, payDate string, dividendPerShare, taxRate float64) (*Receivable, error) {
	if exDate == "" {
		return nil, fmt.Errorf("%w: ex_date is required", domain.ErrInvalidInput)
	}
	if payDate != "" && payDate < exDate {
		return nil, fmt.Errorf("%w: pay_date %s precedes ex_date %s", domain.ErrInvalidInput, payDate, exDate)
	}
	if dividendPerShare <= 0 {
		return nil, fmt.Errorf("%w: dividend_per_share must be positive", domain.ErrInvalidInput)
	}
	if taxRate < 0 || taxRate >= 1 {
		return nil, fmt.Errorf("%w: tax_rate must be in [0,1)", domain.ErrInvalidInput)
	}

	lock := p.locks.Get(positionID)
	lock.Lock()
	defer lock.Unlock()

	if prior, err := p.store.GetByExDate(positionID, exDate); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, fmt.Errorf("position %d ex_date %s: %w", positionID, exDate, ErrAlreadyProcessed)
	}

	position, err := p.positions.Get(positionID)
	if err != nil {
		return nil, err
	}
	if position.AnchorPrice == nil {
		return nil, fmt.Errorf("%w: position %d has no anchor to adjust", domain.ErrInvalidInput, positionID)
	}
	oldAnchor := position.Anchor()
	newAnchor := oldAnchor - dividendPerShare
	if newAnchor <= 0 {
		return nil, fmt.Errorf("%w: dividend %.4f would drop anchor %.4f to zero or below", domain.ErrInvalidInput, dividendPerShare, oldAnchor)
	}

	gross := position.Quantity * dividendPerShare
	tax := gross * taxRate
	net := gross - tax

	receivable := &Receivable{
		PositionID:       positionID,
		ExDate:           exDate,
		PayDate:          payDate,
		DividendPerShare: dividendPerShare,
		GrossAmount:      gross,
		WithholdingTax:   tax,
		NetAmount:        net,
		Status:           ReceivablePending,
	}

	position.SetAnchor(newAnchor)
	position.DividendReceivable += net

	if err := p.store.ApplyExDividend(receivable, position); err != nil {
		return nil, err
	}

	p.events.Emit(uuid.NewString(), events.ExDividendApplied, "dividends",
		map[string]interface{}{
			"position_id":        positionID,
			"ex_date":            exDate,
			"pay_date":           payDate,
			"dividend_per_share": dividendPerShare,
			"tax_rate":           taxRate,
		},
		map[string]interface{}{
			"receivable_id": receivable.ID,
			"old_anchor":    oldAnchor,
			"new_anchor":    newAnchor,
			"gross":         gross,
			"tax":           tax,
			"net":           net,
		}, "")

	p.log.Info().
		Int64("position_id", positionID).
		Str("ex_date", exDate).
		Float64("new_anchor", newAnchor).
		Float64("net", net).
		Msg("ex-dividend applied")
	return receivable, nil
}

// ProcessPayment credits the receivable's net amount to position cash and
// marks it PAID. A receivable pays out exactly once; re-invocation returns
// ErrAlreadyPaid without re-crediting.
func (p *Processor) ProcessPayment(receivableID int64, payDate string) (*Receivable, error) {
	receivable, err := p.store.Get(receivableID)
	if err != nil {
		return nil, err
	}

	lock := p.locks.Get(receivable.PositionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: the status may have flipped while waiting.
	receivable, err = p.store.Get(receivableID)
	if err != nil {
		return nil, err
	}
	if receivable.Status == ReceivablePaid {
		return nil, fmt.Errorf("receivable %d: %w", receivableID, domain.ErrAlreadyPaid)
	}

	position, err := p.positions.Get(receivable.PositionID)
	if err != nil {
		return nil, err
	}

	position.Cash += receivable.NetAmount
	position.DividendReceivable -= receivable.NetAmount
	if position.DividendReceivable < 0 {
		position.DividendReceivable = 0
	}
	position.TotalDividendsReceived += receivable.NetAmount

	now := p.clock.Now().UTC()
	receivable.Status = ReceivablePaid
	receivable.PayDate = payDate
	receivable.PaidAt = &now

	if err := p.store.ApplyPayment(receivable, position); err != nil {
		return nil, err
	}

	p.events.Emit(uuid.NewString(), events.DividendPaid, "dividends",
		map[string]interface{}{"receivable_id": receivableID, "pay_date": payDate},
		map[string]interface{}{
			"net":                      receivable.NetAmount,
			"cash":                     position.Cash,
			"total_dividends_received": position.TotalDividendsReceived,
		}, "")
	return receivable, nil
}

// Pending lists receivables awaiting payment.
func (p *Processor) Pending() ([]Receivable, error) {
	return p.store.ListPending()
}

// ByPosition lists every receivable of a position.
func (p *Processor) ByPosition(positionID int64) ([]Receivable, error) {
	return p.store.ListByPosition(positionID)
}
