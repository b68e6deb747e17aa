package publisher

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch is returned when Publish is called without records.
	ErrEmptyBatch = errors.New("publisher: empty batch")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("publisher: invalid config")

	// ErrBatchRejected is returned by transports for batches that exceed
	// their size limits. The publisher never splits batches and does not
	// retry this error.
	ErrBatchRejected = errors.New("publisher: transport rejected oversized batch")

	// ErrProtocolViolation means the transport returned a different number of
	// outcomes than records submitted.
	ErrProtocolViolation = errors.New("publisher: outcome count does not match submitted records")

	// ErrAttemptsExhausted means some records were still failing after the
	// last allowed attempt. The accompanying Result lists them.
	ErrAttemptsExhausted = errors.New("publisher: attempts exhausted")
)

// ProtocolViolationError carries the mismatched counts.
type ProtocolViolationError struct {
	Attempt   int
	Submitted int
	Received  int
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("%v: attempt %d submitted %d records, received %d outcomes",
		ErrProtocolViolation, e.Attempt, e.Submitted, e.Received)
}

func (e *ProtocolViolationError) Unwrap() error {
	return ErrProtocolViolation
}

// Phase tells where a publish call was when it got cancelled.
type Phase string

const (
	// PhaseNotSent: pending records were not submitted on the interrupted
	// attempt, either because the call stopped during the delay before it or
	// because the context was already done.
	PhaseNotSent Phase = "not_sent"
	// PhaseInFlight: pending records were submitted but no outcome arrived.
	PhaseInFlight Phase = "in_flight"
)

// CancelledError is returned when the context was cancelled or the
// deadline passed before publishing finished.
type CancelledError struct {
	Attempt int
	Phase   Phase
	Cause   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("publisher: cancelled (%s) on attempt %d: %v", e.Phase, e.Attempt, e.Cause)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}
