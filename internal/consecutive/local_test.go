package consecutive

import (
	"context"
	"errors"
	"testing"

	"github.com/docflowhq/docflow/internal/types"
)

type fakeUpdater struct {
	values  []int64
	refuse  bool
	failErr error
}

func (f *fakeUpdater) UpdateLastConsecutive(ctx context.Context, mappingID string, newValue int64) (bool, error) {
	if f.failErr != nil {
		return false, f.failErr
	}
	if f.refuse {
		return false, nil
	}
	f.values = append(f.values, newValue)
	return true, nil
}

func TestLocalAllocatorNextAndCommit(t *testing.T) {
	cfg := &types.ConsecutiveConfig{
		Enabled:    true,
		Prefix:     "LOC",
		Padding:    4,
		StartValue: 200,
		Increment:  2,
	}
	upd := &fakeUpdater{}
	a := NewLocalAllocator("orders", cfg, upd)

	v := a.Next()
	if v.Numeric != 202 || v.Formatted != "LOC0202" {
		t.Errorf("Next = %+v, want 202 / LOC0202", v)
	}
	if len(upd.values) != 0 {
		t.Fatalf("persisted values = %v, allocation alone must not persist", upd.values)
	}

	if err := a.Commit(context.Background(), v.Numeric); err != nil {
		t.Fatal(err)
	}
	if len(upd.values) != 1 || upd.values[0] != 202 {
		t.Errorf("persisted values = %v, want [202]", upd.values)
	}

	if v = a.Next(); v.Numeric != 204 {
		t.Errorf("second Next = %+v, want 204", v)
	}
	if a.Last() != 204 {
		t.Errorf("Last() = %d, want 204", a.Last())
	}
}

// An allocated but never-committed value leaves the stored counter alone;
// only the in-memory cursor moves, so the next commit jumps past it.
func TestLocalAllocatorUncommittedLeavesStoreUntouched(t *testing.T) {
	cfg := &types.ConsecutiveConfig{Enabled: true, StartValue: 10, LastValue: 11}
	upd := &fakeUpdater{}
	a := NewLocalAllocator("orders", cfg, upd)

	_ = a.Next() // 12, abandoned
	if len(upd.values) != 0 {
		t.Fatalf("persisted values = %v, want none for an abandoned allocation", upd.values)
	}

	v := a.Next()
	if v.Numeric != 13 {
		t.Errorf("Next = %+v, want 13 (cursor moved past the abandoned value)", v)
	}
	if err := a.Commit(context.Background(), v.Numeric); err != nil {
		t.Fatal(err)
	}
	if len(upd.values) != 1 || upd.values[0] != 13 {
		t.Errorf("persisted values = %v, want [13]", upd.values)
	}
}

func TestLocalAllocatorSeedsFromLastValue(t *testing.T) {
	cfg := &types.ConsecutiveConfig{Enabled: true, StartValue: 100, LastValue: 540}
	a := NewLocalAllocator("orders", cfg, &fakeUpdater{})

	if v := a.Next(); v.Numeric != 541 {
		t.Errorf("Next = %+v, want 541 (seeded from lastValue)", v)
	}
}

func TestLocalAllocatorPattern(t *testing.T) {
	cfg := &types.ConsecutiveConfig{
		Enabled: true,
		Pattern: "PED-{VALUE:6}",
		Prefix:  "ignored-by-pattern",
	}
	a := NewLocalAllocator("orders", cfg, &fakeUpdater{})

	if v := a.Next(); v.Formatted != "PED-000001" {
		t.Errorf("Next = %+v, want PED-000001", v)
	}
}

func TestLocalAllocatorConcurrentAdvance(t *testing.T) {
	cfg := &types.ConsecutiveConfig{Enabled: true, StartValue: 10}
	a := NewLocalAllocator("orders", cfg, &fakeUpdater{refuse: true})

	// The conditional update reported a concurrent writer; the commit must
	// fail rather than pretend the value is safely recorded.
	v := a.Next()
	if err := a.Commit(context.Background(), v.Numeric); err == nil {
		t.Fatal("Commit should fail when the persisted value advanced concurrently")
	}
}

func TestLocalAllocatorPersistError(t *testing.T) {
	boom := errors.New("write failed")
	cfg := &types.ConsecutiveConfig{Enabled: true, StartValue: 10}
	a := NewLocalAllocator("orders", cfg, &fakeUpdater{failErr: boom})

	v := a.Next()
	if err := a.Commit(context.Background(), v.Numeric); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}
