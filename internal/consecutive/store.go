package consecutive

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a counter does not exist.
var ErrNotFound = errors.New("counter not found")

// ErrConflict is returned by Update when the revision does not match the
// stored document. Callers retry their read-mutate-write loop.
var ErrConflict = errors.New("counter revision conflict")

// Store persists counter documents with optimistic concurrency. Every stored
// document carries a revision that changes on each successful update.
type Store interface {
	// Get returns the counter and its current revision.
	Get(ctx context.Context, id string) (*Counter, int64, error)
	// GetByName resolves a counter by its human name.
	GetByName(ctx context.Context, name string) (*Counter, int64, error)
	// Create inserts a new counter document at revision 1.
	Create(ctx context.Context, c *Counter) error
	// Update replaces the document iff the stored revision matches.
	Update(ctx context.Context, c *Counter, revision int64) error
	// List returns all counters (for the sweeper and the CLI).
	List(ctx context.Context) ([]*Counter, error)
}

// MemoryStore is the in-process Store used by tests and single-node setups.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*Counter
	revisions map[string]int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters:  make(map[string]*Counter),
		revisions: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Counter, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[id]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return c.clone(), s.revisions[id], nil
}

func (s *MemoryStore) GetByName(ctx context.Context, name string) (*Counter, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.counters {
		if c.Name == name {
			return c.clone(), s.revisions[id], nil
		}
	}
	return nil, 0, ErrNotFound
}

func (s *MemoryStore) Create(ctx context.Context, c *Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[c.ID]; ok {
		return ErrConflict
	}
	s.counters[c.ID] = c.clone()
	s.revisions[c.ID] = 1
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, c *Counter, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.revisions[c.ID]
	if !ok {
		return ErrNotFound
	}
	if current != revision {
		return ErrConflict
	}
	s.counters[c.ID] = c.clone()
	s.revisions[c.ID] = revision + 1
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Counter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
