package consecutive

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSweepExpired(t *testing.T) {
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := base
	svc := NewService(NewMemoryStore(), zap.NewNop(),
		WithTTL(time.Minute),
		WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if err := svc.Create(ctx, &Counter{ID: "c1", Name: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Create(ctx, &Counter{ID: "c2", Name: "two"}); err != nil {
		t.Fatal(err)
	}

	stale, err := svc.Reserve(ctx, "c1", 1, "", "old-run")
	if err != nil {
		t.Fatal(err)
	}
	committed, err := svc.Reserve(ctx, "c1", 1, "", "done-run")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Commit(ctx, "c1", committed.ReservationID); err != nil {
		t.Fatal(err)
	}

	// A fresh reservation on the second counter stays inside its TTL.
	clock = base.Add(90 * time.Second)
	fresh, err := svc.Reserve(ctx, "c2", 1, "", "live-run")
	if err != nil {
		t.Fatal(err)
	}

	reclaimed, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want only the stale reservation", reclaimed)
	}

	c1, _ := svc.Get(ctx, "c1")
	if got := c1.findReservation(stale.ReservationID).Status; got != StatusCancelled {
		t.Errorf("stale reservation = %s, want cancelled", got)
	}
	if got := c1.findReservation(committed.ReservationID).Status; got != StatusCommitted {
		t.Errorf("committed reservation = %s, must survive the sweep", got)
	}

	c2, _ := svc.Get(ctx, "c2")
	if got := c2.findReservation(fresh.ReservationID).Status; got != StatusReserved {
		t.Errorf("fresh reservation = %s, want still reserved", got)
	}

	// Sweeping again finds nothing new.
	reclaimed, err = svc.SweepExpired(ctx)
	if err != nil || reclaimed != 0 {
		t.Errorf("second sweep = %d, %v, want 0", reclaimed, err)
	}
}

// A commit that lands between the sweeper's scan and its cancel must win: the
// cancel re-reads under CAS and refuses to touch a committed reservation.
func TestSweepLosesRaceToCommit(t *testing.T) {
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := base
	svc := NewService(NewMemoryStore(), zap.NewNop(),
		WithTTL(time.Minute),
		WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if err := svc.Create(ctx, &Counter{ID: "c", Name: "raced"}); err != nil {
		t.Fatal(err)
	}
	r, err := svc.Reserve(ctx, "c", 1, "", "slow-run")
	if err != nil {
		t.Fatal(err)
	}

	clock = base.Add(2 * time.Minute)
	if err := svc.Commit(ctx, "c", r.ReservationID); err != nil {
		t.Fatal(err)
	}

	reclaimed, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 0 {
		t.Errorf("reclaimed = %d, want 0 for a committed reservation", reclaimed)
	}
	c, _ := svc.Get(ctx, "c")
	if got := c.findReservation(r.ReservationID).Status; got != StatusCommitted {
		t.Errorf("status = %s, want committed", got)
	}
}
