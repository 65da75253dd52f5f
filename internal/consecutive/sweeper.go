package consecutive

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the sweeper scans for expired
// reservations.
const DefaultSweepInterval = 30 * time.Second

// SweepExpired flips every expired `reserved` entry to `cancelled` across all
// counters and returns how many reservations were reclaimed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	counters, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	now := s.now()
	for _, counter := range counters {
		var expired []string
		for _, r := range counter.Reservations {
			if r.Status == StatusReserved && now.After(r.ExpiresAt) {
				expired = append(expired, r.ReservationID)
			}
		}
		for _, reservationID := range expired {
			// Cancel re-reads under CAS, so a commit racing the sweeper wins.
			if err := s.Cancel(ctx, counter.ID, reservationID); err != nil {
				s.logger.Warn("failed to reclaim expired reservation",
					zap.String("counter", counter.ID),
					zap.String("reservation", reservationID),
					zap.Error(err))
				continue
			}
			reclaimed++
			s.logger.Info("reclaimed expired reservation",
				zap.String("counter", counter.ID),
				zap.String("reservation", reservationID))
		}
	}
	return reclaimed, nil
}

// RunSweeper loops SweepExpired on the given interval until the context is
// cancelled. Intended to run under an errgroup owned by the host process.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("reservation sweep failed", zap.Error(err))
			}
		}
	}
}
