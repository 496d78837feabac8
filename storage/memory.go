package storage

import (
	"sync"

	"siteplan/domain"
)

// MemoryStore is the in-process task store. Tasks are only ever appended.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks []domain.Task
}

// NewMemoryStore creates a store pre-populated with seed, in order.
func NewMemoryStore(seed []domain.Task) *MemoryStore {
	return &MemoryStore{tasks: domain.CloneTasks(seed)}
}

// Append inserts task after all existing tasks.
func (m *MemoryStore) Append(task domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task.Clone())
}

// List returns a copy of the ordered sequence.
func (m *MemoryStore) List() []domain.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.CloneTasks(m.tasks)
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
