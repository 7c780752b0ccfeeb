package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dontdude/codestream/internal/domain"
)

// MemoryStore keeps records in a map. Records do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.Execution
}

var _ domain.ExecutionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.Execution)}
}

func (m *MemoryStore) Create(_ context.Context, e *domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	m.records[e.ID] = e.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*domain.Execution) error) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	next := e.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
