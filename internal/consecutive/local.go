package consecutive

import (
	"context"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/types"
)

// LastValueUpdater persists a local-mode counter's last value. Implemented by
// the mapping repository: the update is conditional ("only if strictly
// greater") so concurrent writers cannot move a counter backwards.
type LastValueUpdater interface {
	UpdateLastConsecutive(ctx context.Context, mappingID string, newValue int64) (bool, error)
}

// LocalAllocator allocates consecutives from the mapping's own lastValue
// instead of the centralized service. Next hands out the value tentatively;
// Commit persists the advance once the document's rows are in the target. A
// value that is never committed is never persisted, so a skipped document
// leaves the counter where it was, while the in-memory cursor keeps moving
// and later commits jump past the values failed documents consumed.
type LocalAllocator struct {
	mappingID string
	cfg       *types.ConsecutiveConfig
	updater   LastValueUpdater

	last int64
}

// NewLocalAllocator seeds the allocator from the mapping's persisted
// lastValue (falling back to startValue).
func NewLocalAllocator(mappingID string, cfg *types.ConsecutiveConfig, updater LastValueUpdater) *LocalAllocator {
	last := cfg.LastValue
	if last == 0 {
		last = cfg.StartValue
	}
	return &LocalAllocator{
		mappingID: mappingID,
		cfg:       cfg,
		updater:   updater,
		last:      last,
	}
}

// Next advances the in-memory cursor by the increment and returns the
// allocated value with its formatted form. Nothing is persisted until Commit.
func (a *LocalAllocator) Next() ReservedValue {
	a.last += a.cfg.EffectiveIncrement()
	return ReservedValue{
		Numeric:   a.last,
		Formatted: Format(a.template(), a.cfg.Prefix, a.last, time.Now()),
	}
}

// Commit persists an allocated value as the counter's lastValue. The update
// is conditional ("only if strictly greater"): a refused update means another
// writer advanced past us and the value may be a duplicate, which is reported
// loudly rather than swallowed.
func (a *LocalAllocator) Commit(ctx context.Context, value int64) error {
	ok, err := a.updater.UpdateLastConsecutive(ctx, a.mappingID, value)
	if err != nil {
		return fmt.Errorf("consecutive: persist local value: %w", err)
	}
	if !ok {
		return fmt.Errorf("consecutive: local counter for mapping %s advanced concurrently", a.mappingID)
	}
	return nil
}

// Last returns the most recently allocated value.
func (a *LocalAllocator) Last() int64 { return a.last }

// template derives the format template from the mapping config: an explicit
// pattern wins, otherwise prefix + zero-padded value.
func (a *LocalAllocator) template() string {
	if a.cfg.Pattern != "" {
		return a.cfg.Pattern
	}
	if a.cfg.Padding > 0 {
		return fmt.Sprintf("{PREFIX}{VALUE:%d}", a.cfg.Padding)
	}
	return "{PREFIX}{VALUE}"
}
