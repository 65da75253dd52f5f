// Package consecutive implements the centralized consecutive-number service:
// atomic allocation, reservations with TTL, commit/cancel, segment-scoped
// counters, history, windowed metrics, and an expired-reservation sweeper.
//
// All mutations go through a compare-and-swap loop on the counter document's
// revision, so callers observe linearizable behavior per counter. Different
// counters are independent.
package consecutive

import (
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusCommitted ReservationStatus = "committed"
	StatusCancelled ReservationStatus = "cancelled"
)

// History actions, stable strings persisted in the counter document.
const (
	ActionIncremented = "incremented"
	ActionCommitted   = "committed"
	ActionCancelled   = "cancelled"
	ActionReset       = "reset"
)

// Counter is the persisted counter document.
type Counter struct {
	ID           string         `json:"id" bson:"_id"`
	Name         string         `json:"name" bson:"name"`
	Format       string         `json:"format" bson:"format"`
	CurrentValue int64          `json:"currentValue" bson:"currentValue"`
	StartValue   int64          `json:"startValue" bson:"startValue"`
	Increment    int64          `json:"increment" bson:"increment"`
	Segments     Segments       `json:"segments" bson:"segments"`
	Reservations []Reservation  `json:"reservations" bson:"reservations"`
	History      []HistoryEntry `json:"history" bson:"history"`
	Active       bool           `json:"active" bson:"active"`
}

// Segments holds per-segment counter values when segmentation is enabled.
type Segments struct {
	Enabled bool             `json:"enabled" bson:"enabled"`
	Values  map[string]int64 `json:"values,omitempty" bson:"values,omitempty"`
}

// Reservation is a tentative allocation of one or more values.
type Reservation struct {
	ReservationID string            `json:"reservationId" bson:"reservationId"`
	Values        []ReservedValue   `json:"values" bson:"values"`
	Segment       string            `json:"segment,omitempty" bson:"segment,omitempty"`
	CreatedAt     time.Time         `json:"createdAt" bson:"createdAt"`
	ExpiresAt     time.Time         `json:"expiresAt" bson:"expiresAt"`
	Status        ReservationStatus `json:"status" bson:"status"`
	ReservedBy    string            `json:"reservedBy,omitempty" bson:"reservedBy,omitempty"`
}

// ReservedValue pairs a numeric value with its formatted form.
type ReservedValue struct {
	Numeric   int64  `json:"numeric" bson:"numeric"`
	Formatted string `json:"formatted" bson:"formatted"`
}

// HistoryEntry is one append-only audit entry on a counter.
type HistoryEntry struct {
	Date    time.Time `json:"date" bson:"date"`
	Action  string    `json:"action" bson:"action"`
	Value   int64     `json:"value" bson:"value"`
	Segment string    `json:"segment,omitempty" bson:"segment,omitempty"`
}

// effectiveIncrement defaults to 1 when the document omits it.
func (c *Counter) effectiveIncrement() int64 {
	if c.Increment > 0 {
		return c.Increment
	}
	return 1
}

// valueFor reads the current value for a segment. An empty segment (or
// segmentation disabled) uses the top-level current value.
func (c *Counter) valueFor(segment string) int64 {
	if segment != "" && c.Segments.Enabled {
		return c.Segments.Values[segment]
	}
	return c.CurrentValue
}

// setValueFor writes the current value for a segment.
func (c *Counter) setValueFor(segment string, v int64) {
	if segment != "" && c.Segments.Enabled {
		if c.Segments.Values == nil {
			c.Segments.Values = make(map[string]int64)
		}
		c.Segments.Values[segment] = v
		return
	}
	c.CurrentValue = v
}

// findReservation locates a reservation by id.
func (c *Counter) findReservation(reservationID string) *Reservation {
	for i := range c.Reservations {
		if c.Reservations[i].ReservationID == reservationID {
			return &c.Reservations[i]
		}
	}
	return nil
}

// clone deep-copies the counter so CAS retries never mutate a shared read.
func (c *Counter) clone() *Counter {
	out := *c
	if c.Segments.Values != nil {
		out.Segments.Values = make(map[string]int64, len(c.Segments.Values))
		for k, v := range c.Segments.Values {
			out.Segments.Values[k] = v
		}
	}
	out.Reservations = make([]Reservation, len(c.Reservations))
	copy(out.Reservations, c.Reservations)
	for i := range out.Reservations {
		vals := make([]ReservedValue, len(c.Reservations[i].Values))
		copy(vals, c.Reservations[i].Values)
		out.Reservations[i].Values = vals
	}
	out.History = make([]HistoryEntry, len(c.History))
	copy(out.History, c.History)
	return &out
}
