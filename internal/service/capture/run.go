package capture

import (
	"context"
	"time"
)

// Run drives the session until it is captured or ctx is cancelled. Each
// ticker tick is one render pass and runs at most one capture-loop tick; a
// capture request wakes the loop immediately instead of waiting for the
// next tick.
func (s *Session) Run(ctx context.Context, interval time.Duration) (Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-s.wake:
		case <-ticker.C:
		}

		if s.Tick() == Captured {
			res, _ := s.Result()
			return res, nil
		}
	}
}
