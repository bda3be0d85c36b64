package dividends

import (
	"fmt"
	"sync"
	"time"

	"github.com/avelios/anchor/internal/domain"
)

// MemoryStore is the in-memory receivable store used by simulation runs.
type MemoryStore struct {
	mu          sync.Mutex
	receivables map[int64]*Receivable
	positions   domain.PositionStore
	nextID      int64
}

func NewMemoryStore(positions domain.PositionStore) *MemoryStore {
	return &MemoryStore{
		receivables: make(map[int64]*Receivable),
		positions:   positions,
		nextID:      1,
	}
}

func (m *MemoryStore) Get(id int64) (*Receivable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receivables[id]
	if !ok {
		return nil, fmt.Errorf("receivable %d: %w", id, domain.ErrNotFound)
	}
	copied := *r
	return &copied, nil
}

func (m *MemoryStore) GetByExDate(positionID int64, exDate string) (*Receivable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receivables {
		if r.PositionID == positionID && r.ExDate == exDate {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListPending() ([]Receivable, error) {
	return m.list(func(r *Receivable) bool { return r.Status == ReceivablePending })
}

func (m *MemoryStore) ListByPosition(positionID int64) ([]Receivable, error) {
	return m.list(func(r *Receivable) bool { return r.PositionID == positionID })
}

func (m *MemoryStore) list(match func(*Receivable) bool) ([]Receivable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Receivable
	for id := int64(1); id < m.nextID; id++ {
		if r, ok := m.receivables[id]; ok && match(r) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ApplyExDividend(r *Receivable, position *domain.Position) error {
	m.mu.Lock()
	for _, prior := range m.receivables {
		if prior.PositionID == r.PositionID && prior.ExDate == r.ExDate {
			m.mu.Unlock()
			return fmt.Errorf("ex_date %s already recorded for position %d", r.ExDate, r.PositionID)
		}
	}
	r.ID = m.nextID
	r.CreatedAt = time.Now().UTC()
	m.nextID++
	copied := *r
	m.receivables[r.ID] = &copied
	m.mu.Unlock()

	return m.positions.Update(position)
}

func (m *MemoryStore) ApplyPayment(r *Receivable, position *domain.Position) error {
	m.mu.Lock()
	stored, ok := m.receivables[r.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("receivable %d: %w", r.ID, domain.ErrNotFound)
	}
	if stored.Status == ReceivablePaid {
		m.mu.Unlock()
		return fmt.Errorf("receivable %d: %w", r.ID, domain.ErrAlreadyPaid)
	}
	copied := *r
	m.receivables[r.ID] = &copied
	m.mu.Unlock()

	return m.positions.Update(position)
}
