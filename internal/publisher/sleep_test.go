package publisher_test

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/felixgeelhaar/streamrelay/internal/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockSleeper_WaitsForTimer(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	sleeper := publisher.ClockSleeper{Clock: fc}

	done := make(chan error, 1)
	go func() {
		done <- sleeper.Sleep(context.Background(), 2*time.Second)
	}()

	fc.WaitForWatcherAndIncrement(2 * time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after the clock advanced")
	}
}

func TestClockSleeper_ReturnsOnCancel(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	sleeper := publisher.ClockSleeper{Clock: fc}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- sleeper.Sleep(ctx, time.Hour)
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sleep ignored cancellation")
	}
}

func TestPublish_UsesClockForDelays(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	transport := &fakeTransport{}
	transport.respond = func(call int, records []publisher.Record) ([]publisher.Outcome, error) {
		if call == 1 {
			return failKeys("key-0")(call, records)
		}
		return failKeys()(call, records)
	}
	p := publisher.New(transport, publisher.WithClock(fc))

	done := make(chan error, 1)
	go func() {
		_, err := p.Publish(context.Background(), makeRecords(2), publisher.Config{MaxAttempts: 2, BaseDelay: time.Second})
		done <- err
	}()

	fc.WaitForWatcherAndIncrement(2 * time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Len(t, transport.Calls(), 2)
	case <-time.After(time.Second):
		t.Fatal("publish did not resume after the delay")
	}
}
