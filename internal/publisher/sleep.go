package publisher

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"
)

// Sleeper suspends the calling goroutine between attempts.
type Sleeper interface {
	// Sleep returns nil after d elapsed, or the context error if ctx is done
	// first.
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper sleeps on timers created by a clock.Clock.
type ClockSleeper struct {
	Clock clock.Clock
}

// Sleep implements Sleeper.
func (s ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := s.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
