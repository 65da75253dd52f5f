// Package exectracker is the in-process registry of running executions, used
// for cancellation and status polling.
package exectracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docflowhq/docflow/internal/types"
)

// Entry is one tracked execution.
type Entry struct {
	ExecutionID string
	MappingID   string
	StartedAt   time.Time

	cancel context.CancelFunc

	mu       sync.Mutex
	progress types.Progress
}

// Progress returns the latest progress snapshot.
func (e *Entry) Progress() types.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// SetProgress records a snapshot; the engine calls this between documents.
func (e *Entry) SetProgress(p types.Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = p
}

// Tracker is a concurrent registry keyed by execution id.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

// Register adds an execution and returns its entry. The cancel func is
// invoked by Cancel.
func (t *Tracker) Register(executionID, mappingID string, cancel context.CancelFunc) *Entry {
	entry := &Entry{
		ExecutionID: executionID,
		MappingID:   mappingID,
		StartedAt:   time.Now(),
		cancel:      cancel,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[executionID] = entry
	return entry
}

// Deregister removes an execution. Safe to call for unknown ids.
func (t *Tracker) Deregister(executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, executionID)
}

// Get returns the entry for an execution id.
func (t *Tracker) Get(executionID string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[executionID]
	return entry, ok
}

// Cancel fires the execution's cancellation. Returns an error for unknown
// ids so callers can distinguish "already finished" from "cancelled".
func (t *Tracker) Cancel(executionID string) error {
	t.mu.RLock()
	entry, ok := t.entries[executionID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("exectracker: no running execution %s", executionID)
	}
	entry.cancel()
	return nil
}

// CancelByMapping cancels every running execution of a mapping and returns
// how many were signalled.
func (t *Tracker) CancelByMapping(mappingID string) int {
	t.mu.RLock()
	var targets []*Entry
	for _, e := range t.entries {
		if e.MappingID == mappingID {
			targets = append(targets, e)
		}
	}
	t.mu.RUnlock()
	for _, e := range targets {
		e.cancel()
	}
	return len(targets)
}

// List returns all running executions, oldest first.
func (t *Tracker) List() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len reports how many executions are running.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
