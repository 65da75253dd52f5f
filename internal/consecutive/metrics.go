package consecutive

import (
	"context"
	"time"
)

// CounterMetrics summarizes counter activity over a time window.
type CounterMetrics struct {
	CounterID  string    `json:"counterId"`
	Name       string    `json:"name"`
	WindowFrom time.Time `json:"windowFrom"`
	WindowTo   time.Time `json:"windowTo"`

	Increments int `json:"increments"`
	Resets     int `json:"resets"`

	ActiveReservations    int `json:"activeReservations"`
	ExpiredReservations   int `json:"expiredReservations"`
	CommittedReservations int `json:"committedReservations"`

	MinValue int64 `json:"minValue"`
	MaxValue int64 `json:"maxValue"`

	PerSegment map[string]int `json:"perSegment,omitempty"`
}

// Metrics computes activity metrics for one counter over the trailing window.
func (s *Service) Metrics(ctx context.Context, id string, window time.Duration) (*CounterMetrics, error) {
	c, _, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	to := s.now()
	from := to.Add(-window)
	m := &CounterMetrics{
		CounterID:  c.ID,
		Name:       c.Name,
		WindowFrom: from,
		WindowTo:   to,
		PerSegment: make(map[string]int),
	}

	first := true
	for _, h := range c.History {
		if h.Date.Before(from) || h.Date.After(to) {
			continue
		}
		switch h.Action {
		case ActionIncremented:
			m.Increments++
		case ActionReset:
			m.Resets++
		}
		if h.Segment != "" {
			m.PerSegment[h.Segment]++
		}
		if first || h.Value < m.MinValue {
			m.MinValue = h.Value
		}
		if first || h.Value > m.MaxValue {
			m.MaxValue = h.Value
		}
		first = false
	}

	now := s.now()
	for _, r := range c.Reservations {
		switch {
		case r.Status == StatusCommitted:
			m.CommittedReservations++
		case r.Status == StatusReserved && now.After(r.ExpiresAt):
			m.ExpiredReservations++
		case r.Status == StatusReserved:
			m.ActiveReservations++
		}
	}
	if len(m.PerSegment) == 0 {
		m.PerSegment = nil
	}
	return m, nil
}
