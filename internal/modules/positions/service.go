package positions

import (
	"fmt"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateParams is the caller-supplied definition of a new position.
type CreateParams struct {
	Symbol      string                `json:"symbol"`
	Quantity    float64               `json:"quantity"`
	Cash        float64               `json:"cash"`
	AnchorPrice *float64              `json:"anchor_price"`
	AvgCost     float64               `json:"avg_cost"`
	Config      domain.PositionConfig `json:"config"`
}

// Service manages position lifecycle: create PAUSED, start, pause, archive.
// Quantity, cash and anchor mutations are owned by the trading ledger and the
// dividend processor, not by this service.
type Service struct {
	store  domain.PositionStore
	events *events.Manager
	log    zerolog.Logger
}

func NewService(store domain.PositionStore, events *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		events: events,
		log:    log.With().Str("service", "positions").Logger(),
	}
}

// Create validates the configuration and stores a new PAUSED position.
func (s *Service) Create(params CreateParams) (*domain.Position, error) {
	if params.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInvalidInput)
	}
	if params.Quantity < 0 || params.Cash < 0 {
		return nil, fmt.Errorf("%w: quantity and cash must be non-negative", domain.ErrInvalidInput)
	}
	if params.AnchorPrice != nil && *params.AnchorPrice <= 0 {
		return nil, fmt.Errorf("%w: anchor price must be positive when set", domain.ErrInvalidInput)
	}
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}

	position := &domain.Position{
		Symbol:      params.Symbol,
		Status:      domain.StatusPaused,
		Quantity:    params.Quantity,
		Cash:        params.Cash,
		AnchorPrice: params.AnchorPrice,
		AvgCost:     params.AvgCost,
		Config:      params.Config,
	}
	if err := s.store.Create(position); err != nil {
		return nil, err
	}

	s.events.Emit(uuid.NewString(), events.PositionCreated, "positions",
		map[string]interface{}{"symbol": position.Symbol, "quantity": position.Quantity, "cash": position.Cash},
		map[string]interface{}{"position_id": position.ID}, "")
	return position, nil
}

// Start transitions a PAUSED position to ACTIVE after checking preconditions.
func (s *Service) Start(id int64) (*domain.Position, error) {
	return s.transition(id, domain.StatusActive, events.PositionStarted, func(p *domain.Position) error {
		if p.Status == domain.StatusArchived {
			return fmt.Errorf("%w: archived position cannot be started", domain.ErrInvalidInput)
		}
		return p.CanStart()
	})
}

// Pause stops scheduled evaluation of the position.
func (s *Service) Pause(id int64) (*domain.Position, error) {
	return s.transition(id, domain.StatusPaused, events.PositionPaused, func(p *domain.Position) error {
		if p.Status == domain.StatusArchived {
			return fmt.Errorf("%w: archived position cannot be paused", domain.ErrInvalidInput)
		}
		return nil
	})
}

// Archive retires the position. Positions are never hard-deleted while
// orders and trades reference them.
func (s *Service) Archive(id int64) (*domain.Position, error) {
	return s.transition(id, domain.StatusArchived, events.PositionArchived, func(p *domain.Position) error {
		return nil
	})
}

// UpdateConfig replaces the engine parameters of a position. Validated here
// once; cycles only re-check basic ranges.
func (s *Service) UpdateConfig(id int64, config domain.PositionConfig) (*domain.Position, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	position, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	position.Config = config
	if err := s.store.Update(position); err != nil {
		return nil, err
	}
	return position, nil
}

func (s *Service) transition(id int64, to domain.PositionStatus, eventType events.EventType, check func(*domain.Position) error) (*domain.Position, error) {
	position, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := check(position); err != nil {
		return nil, err
	}
	if position.Status == to {
		return position, nil
	}

	from := position.Status
	position.Status = to
	if err := s.store.Update(position); err != nil {
		return nil, err
	}

	s.events.Emit(uuid.NewString(), eventType, "positions",
		map[string]interface{}{"position_id": id, "from": string(from)},
		map[string]interface{}{"status": string(to)}, "")
	s.log.Info().Int64("position_id", id).Str("from", string(from)).Str("to", string(to)).Msg("position status changed")
	return position, nil
}
