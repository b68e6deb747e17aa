package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"code.cloudfoundry.org/clock"
)

// AttemptReport is passed to the Observer after every submission.
type AttemptReport struct {
	Attempt   int
	Submitted int
	Failed    int
	// Delay is the wait scheduled before the next attempt, zero if none.
	Delay time.Duration
	// Err is the transport error of the attempt, if the call itself failed.
	Err error
	// Elapsed is the time since Publish was called, on the publisher's clock.
	Elapsed time.Duration
}

// Observer receives attempt reports. It is called synchronously from the
// publishing goroutine.
type Observer func(AttemptReport)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers an observer for attempt reports.
func WithObserver(observer Observer) Option {
	return func(p *Publisher) {
		p.observer = observer
	}
}

// WithClock sets the clock used for timers and deadline checks.
func WithClock(c clock.Clock) Option {
	return func(p *Publisher) {
		p.clock = c
	}
}

// WithSleeper replaces the timer based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(p *Publisher) {
		p.sleeper = s
	}
}

// WithRand sets the source for jittered delays. fn must return a value in
// [0, n).
func WithRand(fn func(n int64) int64) Option {
	return func(p *Publisher) {
		p.randInt63n = fn
	}
}

// Publisher delivers record batches through a Transport. A Publisher holds no
// per-call state and may be shared by concurrent Publish calls.
type Publisher struct {
	transport  Transport
	logger     *slog.Logger
	observer   Observer
	clock      clock.Clock
	sleeper    Sleeper
	randInt63n func(int64) int64
}

// New creates a publisher on top of transport.
func New(transport Transport, opts ...Option) *Publisher {
	p := &Publisher{
		transport:  transport,
		logger:     slog.Default(),
		clock:      clock.NewClock(),
		randInt63n: rand.Int64N,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sleeper == nil {
		p.sleeper = ClockSleeper{Clock: p.clock}
	}
	return p
}

type pendingRecord struct {
	index   int
	code    string
	message string
}

// Publish submits records and retries the failed subset until everything is
// delivered, cfg.MaxAttempts submissions were made, or ctx is done.
//
// The returned Result is nil only for invalid input and protocol violations.
// A non-nil error with a non-nil Result wraps ErrAttemptsExhausted,
// ErrBatchRejected or is a *CancelledError.
func (p *Publisher) Publish(ctx context.Context, records []Record, cfg Config) (*Result, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// cfg.Deadline is measured on the publisher's clock; deadlines of the
	// caller's context are wall clock time.
	callerDeadline, hasCallerDeadline := ctx.Deadline()
	if !cfg.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline.Sub(p.clock.Now()))
		defer cancel()
	}

	started := p.clock.Now()
	result := &Result{Submitted: len(records)}
	pending := make([]pendingRecord, len(records))
	for i := range records {
		pending[i] = pendingRecord{index: i}
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return p.cancelled(result, records, pending, attempt, PhaseNotSent, err)
		}

		batch := make([]Record, len(pending))
		for i, pr := range pending {
			batch[i] = records[pr.index]
		}

		outcomes, err := p.transport.SubmitBatch(ctx, batch)
		result.Attempts = attempt

		var submitErr error
		switch {
		case err == nil:
			if len(outcomes) != len(batch) {
				violation := &ProtocolViolationError{
					Attempt:   attempt,
					Submitted: len(batch),
					Received:  len(outcomes),
				}
				p.logger.Error("transport broke outcome alignment",
					"attempt", attempt,
					"submitted", len(batch),
					"received", len(outcomes),
				)
				p.observe(started, AttemptReport{Attempt: attempt, Submitted: len(batch), Failed: len(batch), Err: violation})
				return nil, violation
			}
			pending = p.collect(result, records, pending, outcomes, attempt)

		case errors.Is(err, ErrBatchRejected):
			p.observe(started, AttemptReport{Attempt: attempt, Submitted: len(batch), Failed: len(batch), Err: err})
			markAll(pending, "BatchRejected", err.Error())
			result.Failed = failedRecords(records, pending)
			return result, fmt.Errorf("attempt %d: %w", attempt, err)

		case ctx.Err() != nil:
			return p.cancelled(result, records, pending, attempt, PhaseInFlight, ctx.Err())

		default:
			submitErr = err
			code := KindOther.String()
			var te *TransportError
			if errors.As(err, &te) {
				code = te.Kind.String()
			} else if errors.Is(err, context.DeadlineExceeded) {
				code = KindConnectionTimeout.String()
			}
			markAll(pending, code, err.Error())
		}

		if len(pending) == 0 {
			p.observe(started, AttemptReport{Attempt: attempt, Submitted: len(batch)})
			p.logger.Debug("batch delivered",
				"records", len(records),
				"attempts", attempt,
			)
			return result, nil
		}

		if attempt >= cfg.MaxAttempts {
			p.observe(started, AttemptReport{Attempt: attempt, Submitted: len(batch), Failed: len(pending), Err: submitErr})
			result.Failed = failedRecords(records, pending)
			p.logger.Warn("giving up on failed records",
				"failed", len(pending),
				"records", len(records),
				"attempts", attempt,
			)
			return result, fmt.Errorf("%w: %d of %d records undelivered after %d attempts",
				ErrAttemptsExhausted, len(pending), len(records), attempt)
		}

		delay := cfg.delay(attempt, p.randInt63n)
		p.observe(started, AttemptReport{
			Attempt:   attempt,
			Submitted: len(batch),
			Failed:    len(pending),
			Delay:     delay,
			Err:       submitErr,
		})
		p.logger.Debug("retrying failed records",
			"failed", len(pending),
			"attempt", attempt,
			"delay", delay,
			"error", submitErr,
		)

		if (!cfg.Deadline.IsZero() && p.clock.Now().Add(delay).After(cfg.Deadline)) ||
			(hasCallerDeadline && time.Now().Add(delay).After(callerDeadline)) {
			return p.cancelled(result, records, pending, attempt+1, PhaseNotSent, context.DeadlineExceeded)
		}
		if err := p.sleeper.Sleep(ctx, delay); err != nil {
			return p.cancelled(result, records, pending, attempt+1, PhaseNotSent, err)
		}
	}
}

// collect records delivered outcomes and returns the records to retry, in
// their original relative order. It reuses the pending slice.
func (p *Publisher) collect(result *Result, records []Record, pending []pendingRecord, outcomes []Outcome, attempt int) []pendingRecord {
	next := pending[:0]
	for i, outcome := range outcomes {
		pr := pending[i]
		if outcome.IsFailed() {
			pr.code = outcome.ErrorCode
			pr.message = outcome.ErrorMessage
			next = append(next, pr)
			continue
		}
		result.Delivered = append(result.Delivered, DeliveredRecord{
			IndexedRecord: IndexedRecord{Index: pr.index, Record: records[pr.index]},
			Delivery:      outcome.Delivery,
			Attempt:       attempt,
		})
	}
	return next
}

func (p *Publisher) cancelled(result *Result, records []Record, pending []pendingRecord, attempt int, phase Phase, cause error) (*Result, error) {
	indexed := make([]IndexedRecord, 0, len(pending))
	for _, pr := range pending {
		indexed = append(indexed, IndexedRecord{Index: pr.index, Record: records[pr.index]})
	}
	if phase == PhaseInFlight {
		result.Unknown = indexed
	} else {
		result.Unsent = indexed
	}

	p.logger.Warn("publish cancelled",
		"attempt", attempt,
		"phase", string(phase),
		"delivered", len(result.Delivered),
		"pending", len(pending),
		"error", cause,
	)
	return result, &CancelledError{Attempt: attempt, Phase: phase, Cause: cause}
}

func (p *Publisher) observe(started time.Time, report AttemptReport) {
	if p.observer != nil {
		report.Elapsed = p.clock.Since(started)
		p.observer(report)
	}
}

func markAll(pending []pendingRecord, code, message string) {
	for i := range pending {
		pending[i].code = code
		pending[i].message = message
	}
}

func failedRecords(records []Record, pending []pendingRecord) []FailedRecord {
	failed := make([]FailedRecord, 0, len(pending))
	for _, pr := range pending {
		failed = append(failed, FailedRecord{
			IndexedRecord: IndexedRecord{Index: pr.index, Record: records[pr.index]},
			ErrorCode:     pr.code,
			ErrorMessage:  pr.message,
		})
	}
	return failed
}
