package store

import (
	"sync"
	"time"

	"copilot/internal/model"
)

// Memory holds the most recently discovered event set. Replace swaps the
// whole set at once; readers never see a half-applied refresh.
type Memory struct {
	mu        sync.RWMutex
	events    []model.Event
	updatedAt time.Time
}

func NewMemory() *Memory {
	return &Memory{events: []model.Event{}}
}

// Replace installs events as the current set. The slice is copied.
func (m *Memory) Replace(events []model.Event, at time.Time) {
	cp := append([]model.Event(nil), events...)
	if cp == nil {
		cp = []model.Event{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = cp
	m.updatedAt = at
}

// Events returns a copy of the current set.
func (m *Memory) Events() []model.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Event{}, m.events...)
}

func (m *Memory) UpdatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt
}
