package exectracker

import (
	"context"
	"testing"

	"github.com/docflowhq/docflow/internal/types"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := New()

	ctx, cancel := context.WithCancel(context.Background())
	entry := tr.Register("exec-1", "orders", cancel)
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}

	got, ok := tr.Get("exec-1")
	if !ok || got != entry {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	entry.SetProgress(types.Progress{Total: 10, Current: 3})
	if p := entry.Progress(); p.Current != 3 || p.Total != 10 {
		t.Errorf("progress = %+v", p)
	}

	if err := tr.Cancel("exec-1"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("Cancel did not fire the context")
	}

	tr.Deregister("exec-1")
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after deregister", tr.Len())
	}
	// Idempotent for unknown ids.
	tr.Deregister("exec-1")

	if err := tr.Cancel("exec-1"); err == nil {
		t.Error("Cancel of a finished execution should error")
	}
}

func TestTrackerCancelByMapping(t *testing.T) {
	tr := New()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	ctx3, cancel3 := context.WithCancel(context.Background())
	tr.Register("e1", "orders", cancel1)
	tr.Register("e2", "orders", cancel2)
	tr.Register("e3", "invoices", cancel3)

	if n := tr.CancelByMapping("orders"); n != 2 {
		t.Fatalf("CancelByMapping = %d, want 2", n)
	}
	if ctx1.Err() == nil || ctx2.Err() == nil {
		t.Error("orders executions not cancelled")
	}
	if ctx3.Err() != nil {
		t.Error("invoices execution must not be cancelled")
	}

	if n := tr.CancelByMapping("missing"); n != 0 {
		t.Errorf("CancelByMapping(missing) = %d", n)
	}
}

func TestTrackerList(t *testing.T) {
	tr := New()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Register("a", "m", cancel)
	tr.Register("b", "m", cancel)

	list := tr.List()
	if len(list) != 2 {
		t.Fatalf("List = %d entries", len(list))
	}
	if list[0].StartedAt.After(list[1].StartedAt) {
		t.Error("List must be oldest first")
	}
}
