package mapstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/internal/types"
)

// MemoryRepository is the in-process Repository used by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	mappings map[string]*types.Mapping
}

// NewMemoryRepository seeds a repository with the given mappings.
func NewMemoryRepository(mappings ...*types.Mapping) *MemoryRepository {
	r := &MemoryRepository{mappings: make(map[string]*types.Mapping)}
	for _, m := range mappings {
		r.mappings[m.ID] = m
	}
	return r
}

// Put adds or replaces a mapping.
func (r *MemoryRepository) Put(m *types.Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[m.ID] = m
}

func (r *MemoryRepository) FindMapping(ctx context.Context, id string) (*types.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.mappings[id]; ok {
		return m, nil
	}
	for _, m := range r.mappings {
		if m.Name == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("mapstore: mapping %q: %w", id, ErrNotFound)
}

func (r *MemoryRepository) ListMappings(ctx context.Context) ([]*types.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Mapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) UpdateLastConsecutive(ctx context.Context, id string, newValue int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[id]
	if !ok {
		return false, fmt.Errorf("mapstore: mapping %q: %w", id, ErrNotFound)
	}
	if newValue <= m.Consecutive.LastValue {
		return false, nil
	}
	m.Consecutive.LastValue = newValue
	return true, nil
}

// MemoryExecutionStore is the in-process ExecutionStore used by tests and by
// CLI runs that do not configure a persistent store.
type MemoryExecutionStore struct {
	mu      sync.RWMutex
	records map[string]*types.ExecutionRecord
	order   []string
}

// NewMemoryExecutionStore returns an empty store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{records: make(map[string]*types.ExecutionRecord)}
}

func (s *MemoryExecutionStore) CreateExecution(ctx context.Context, rec *types.ExecutionRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	clone := *rec
	s.records[rec.ID] = &clone
	s.order = append(s.order, rec.ID)
	return rec.ID, nil
}

func (s *MemoryExecutionStore) UpdateExecution(ctx context.Context, rec *types.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("mapstore: execution %q: %w", rec.ID, ErrNotFound)
	}
	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

func (s *MemoryExecutionStore) GetExecution(ctx context.Context, id string) (*types.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("mapstore: execution %q: %w", id, ErrNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryExecutionStore) ListExecutions(ctx context.Context, limit int) ([]*types.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ExecutionRecord
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		rec := s.records[s.order[i]]
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}
