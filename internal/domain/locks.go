package domain

import "sync"

// PositionLocks serializes mutations per position. The evaluation cycle and
// the dividend processor share one registry so a cycle never interleaves with
// an ex-dividend anchor adjustment or a payment credit on the same position.
type PositionLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewPositionLocks() *PositionLocks {
	return &PositionLocks{locks: make(map[int64]*sync.Mutex)}
}

// Get returns the mutex for the position, creating it on first use.
func (l *PositionLocks) Get(positionID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[positionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[positionID] = lock
	}
	return lock
}
