package consecutive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL is how long a reservation stays claimable before the sweeper
// reclaims it.
const DefaultTTL = 5 * time.Minute

// Service exposes the atomic counter primitives. All mutations run a
// read-mutate-CAS loop against the Store; on revision conflict the loop
// re-reads and retries with backoff.
type Service struct {
	store  Store
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// Option tunes a Service.
type Option func(*Service)

// WithTTL overrides the reservation TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock substitutes the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a consecutive service over the given store.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		logger: logger.Named("consecutive"),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveID finds a counter id by name.
func (s *Service) ResolveID(ctx context.Context, name string) (string, error) {
	c, _, err := s.store.GetByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("consecutive: resolve %q: %w", name, err)
	}
	return c.ID, nil
}

// Get returns a snapshot of a counter document.
func (s *Service) Get(ctx context.Context, id string) (*Counter, error) {
	c, _, err := s.store.Get(ctx, id)
	return c, err
}

// List returns all counters.
func (s *Service) List(ctx context.Context) ([]*Counter, error) {
	return s.store.List(ctx)
}

// Create registers a new counter document.
func (s *Service) Create(ctx context.Context, c *Counter) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := ValidateTemplate(c.Format); err != nil {
		return err
	}
	if c.CurrentValue == 0 && c.StartValue != 0 {
		c.CurrentValue = c.StartValue
	}
	c.Active = true
	return s.store.Create(ctx, c)
}

// Next atomically advances the counter by one increment and returns the new
// value with its formatted form.
func (s *Service) Next(ctx context.Context, id, segment string) (ReservedValue, error) {
	var out ReservedValue
	err := s.casUpdate(ctx, id, func(c *Counter) error {
		if !c.Active {
			return fmt.Errorf("consecutive: counter %s is inactive", id)
		}
		v := c.valueFor(segment) + c.effectiveIncrement()
		c.setValueFor(segment, v)
		c.History = append(c.History, HistoryEntry{
			Date: s.now(), Action: ActionIncremented, Value: v, Segment: segment,
		})
		out = ReservedValue{Numeric: v, Formatted: Format(c.Format, "", v, s.now())}
		return nil
	})
	return out, err
}

// Reserve atomically allocates n values and records a reservation that must
// be committed or cancelled. Expired reservations are reclaimed by the
// sweeper; the allocated range is never reused, so cancellation leaves gaps.
func (s *Service) Reserve(ctx context.Context, id string, n int, segment, reservedBy string) (*Reservation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("consecutive: reserve %d values", n)
	}
	var out Reservation
	err := s.casUpdate(ctx, id, func(c *Counter) error {
		if !c.Active {
			return fmt.Errorf("consecutive: counter %s is inactive", id)
		}
		inc := c.effectiveIncrement()
		v := c.valueFor(segment)
		now := s.now()
		values := make([]ReservedValue, 0, n)
		for i := 0; i < n; i++ {
			v += inc
			values = append(values, ReservedValue{
				Numeric:   v,
				Formatted: Format(c.Format, "", v, now),
			})
		}
		c.setValueFor(segment, v)
		out = Reservation{
			ReservationID: uuid.NewString(),
			Values:        values,
			Segment:       segment,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.ttl),
			Status:        StatusReserved,
			ReservedBy:    reservedBy,
		}
		c.Reservations = append(c.Reservations, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Commit marks a reservation committed. Idempotent by reservation id:
// committing twice is a no-op, committing a cancelled reservation is an
// error.
func (s *Service) Commit(ctx context.Context, id, reservationID string) error {
	return s.casUpdate(ctx, id, func(c *Counter) error {
		r := c.findReservation(reservationID)
		if r == nil {
			return fmt.Errorf("consecutive: reservation %s not found on counter %s", reservationID, id)
		}
		switch r.Status {
		case StatusCommitted:
			return nil
		case StatusCancelled:
			return fmt.Errorf("consecutive: reservation %s already cancelled", reservationID)
		}
		r.Status = StatusCommitted
		for _, v := range r.Values {
			c.History = append(c.History, HistoryEntry{
				Date: s.now(), Action: ActionCommitted, Value: v.Numeric, Segment: r.Segment,
			})
		}
		return nil
	})
}

// Cancel marks a reservation cancelled. Idempotent; the allocated range is
// not reused.
func (s *Service) Cancel(ctx context.Context, id, reservationID string) error {
	return s.casUpdate(ctx, id, func(c *Counter) error {
		r := c.findReservation(reservationID)
		if r == nil {
			return fmt.Errorf("consecutive: reservation %s not found on counter %s", reservationID, id)
		}
		if r.Status == StatusCancelled {
			return nil
		}
		if r.Status == StatusCommitted {
			return fmt.Errorf("consecutive: reservation %s already committed", reservationID)
		}
		r.Status = StatusCancelled
		for _, v := range r.Values {
			c.History = append(c.History, HistoryEntry{
				Date: s.now(), Action: ActionCancelled, Value: v.Numeric, Segment: r.Segment,
			})
		}
		return nil
	})
}

// Reset sets the counter (or one segment) to an explicit value regardless of
// the previous value. This is the only way a counter moves backwards.
func (s *Service) Reset(ctx context.Context, id string, value int64, segment string) error {
	return s.casUpdate(ctx, id, func(c *Counter) error {
		c.setValueFor(segment, value)
		c.History = append(c.History, HistoryEntry{
			Date: s.now(), Action: ActionReset, Value: value, Segment: segment,
		})
		return nil
	})
}

// casUpdate runs the read-mutate-write loop for one counter. Revision
// conflicts retry with short exponential backoff; every other error is final.
func (s *Service) casUpdate(ctx context.Context, id string, mutate func(*Counter) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second

	return backoff.Retry(func() error {
		c, rev, err := s.store.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := mutate(c); err != nil {
			return backoff.Permanent(err)
		}
		err = s.store.Update(ctx, c, rev)
		if errors.Is(err, ErrConflict) {
			return err // retry with a fresh read
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
