// Package breaker guards a transport with a circuit breaker so a failing
// stream endpoint is not hammered by every retry of every publish call.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// Config configures the circuit breaker.
type Config struct {
	Name string

	// FailureThreshold is the number of consecutive transport errors that
	// opens the circuit.
	FailureThreshold uint32

	// MaxRequests is the maximum number of requests allowed in half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state.
	Interval time.Duration

	// Timeout is the period of the open state.
	Timeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Name:             "stream",
		FailureThreshold: 5,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
	}
}

// Transport wraps another transport.
type Transport struct {
	next    publisher.Transport
	breaker *gobreaker.CircuitBreaker[[]publisher.Outcome]
	name    string
}

// New wraps next in a circuit breaker.
func New(next publisher.Transport, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Partial record failures come back as outcomes, not errors, so only
		// failed submission calls count against the circuit.
		IsSuccessful: func(err error) bool {
			var done *callerDone
			return err == nil ||
				errors.As(err, &done) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, publisher.ErrBatchRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"transport", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Transport{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[[]publisher.Outcome](settings),
		name:    cfg.Name,
	}
}

// SubmitBatch forwards to the wrapped transport unless the circuit is open.
// An open circuit is reported as a throttling transport error.
func (t *Transport) SubmitBatch(ctx context.Context, records []publisher.Record) ([]publisher.Outcome, error) {
	outcomes, err := t.breaker.Execute(func() ([]publisher.Outcome, error) {
		outcomes, err := t.next.SubmitBatch(ctx, records)
		if err != nil && ctx.Err() != nil {
			return outcomes, &callerDone{err: err}
		}
		return outcomes, err
	})
	var done *callerDone
	if errors.As(err, &done) {
		return outcomes, done.err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, publisher.NewTransportError(publisher.KindThrottled, fmt.Errorf("circuit %s: %w", t.name, err))
	}
	return outcomes, err
}

// callerDone marks an error raised after the caller's context ended. The
// endpoint may be healthy, so it does not count against the circuit.
type callerDone struct {
	err error
}

func (e *callerDone) Error() string { return e.err.Error() }
func (e *callerDone) Unwrap() error { return e.err }

// State returns the current circuit state.
func (t *Transport) State() gobreaker.State {
	return t.breaker.State()
}
