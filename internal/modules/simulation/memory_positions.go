package simulation

import (
	"fmt"
	"sync"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/events"
)

// memoryPositionStore holds the single simulated position of a run.
type memoryPositionStore struct {
	mu        sync.Mutex
	positions map[int64]*domain.Position
	nextID    int64
}

func newMemoryPositionStore() *memoryPositionStore {
	return &memoryPositionStore{positions: make(map[int64]*domain.Position), nextID: 1}
}

func (s *memoryPositionStore) Get(id int64) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (s *memoryPositionStore) GetActive() ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.StatusActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memoryPositionStore) Create(p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	copied := *p
	s.positions[p.ID] = &copied
	return nil
}

func (s *memoryPositionStore) Update(p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("position %d: %w", p.ID, domain.ErrNotFound)
	}
	copied := *p
	s.positions[p.ID] = &copied
	return nil
}

// eventCollector implements events.Store, keeping the run's audit trail in
// memory in append order.
type eventCollector struct {
	mu     sync.Mutex
	events []events.Event
	nextID int64
}

func newEventCollector() *eventCollector {
	return &eventCollector{nextID: 1}
}

func (c *eventCollector) Append(e *events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.ID = c.nextID
	c.nextID++
	c.events = append(c.events, *e)
	return nil
}

func (c *eventCollector) All() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.events))
	copy(out, c.events)
	return out
}
