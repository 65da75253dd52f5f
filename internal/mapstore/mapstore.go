// Package mapstore provides the engine's client view of the persisted
// mapping definitions and execution records. The authoritative metadata
// store lives outside the core; these interfaces plus the YAML and SQL
// implementations here are what the engine and the CLI consume.
package mapstore

import (
	"context"
	"errors"

	"github.com/docflowhq/docflow/internal/types"
)

// ErrNotFound is returned when a mapping or execution does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the read-mostly accessor over mapping definitions.
type Repository interface {
	// FindMapping resolves a mapping by id or name.
	FindMapping(ctx context.Context, id string) (*types.Mapping, error)
	// ListMappings returns all known mappings.
	ListMappings(ctx context.Context) ([]*types.Mapping, error)
	// UpdateLastConsecutive persists a local-mode counter value, but only
	// when strictly greater than the stored one. Returns whether the update
	// was applied.
	UpdateLastConsecutive(ctx context.Context, id string, newValue int64) (bool, error)
}

// ExecutionStore persists execution audit records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, rec *types.ExecutionRecord) (string, error)
	UpdateExecution(ctx context.Context, rec *types.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*types.ExecutionRecord, error)
	ListExecutions(ctx context.Context, limit int) ([]*types.ExecutionRecord, error)
}
