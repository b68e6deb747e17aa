// Package publisher delivers batches of records to a streaming transport,
// retrying only the records that a submission reported as failed.
package publisher

import (
	"context"
	"fmt"
)

// Record is a single payload destined for the stream.
type Record struct {
	PartitionKey string
	Data         []byte
}

// Delivery is the acknowledgement metadata a transport attaches to a
// delivered record.
type Delivery struct {
	ShardID        string
	SequenceNumber string
}

// Outcome is the per-record result of one batch submission.
type Outcome struct {
	Delivery     Delivery
	ErrorCode    string
	ErrorMessage string
	failed       bool
}

// Delivered builds a successful outcome.
func Delivered(shardID, sequenceNumber string) Outcome {
	return Outcome{Delivery: Delivery{ShardID: shardID, SequenceNumber: sequenceNumber}}
}

// Failed builds a failed outcome.
func Failed(code, message string) Outcome {
	return Outcome{ErrorCode: code, ErrorMessage: message, failed: true}
}

// IsFailed reports whether the record was rejected.
func (o Outcome) IsFailed() bool {
	return o.failed
}

// Transport submits one batch and returns one outcome per record, in the
// same order as the records.
type Transport interface {
	SubmitBatch(ctx context.Context, records []Record) ([]Outcome, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, records []Record) ([]Outcome, error)

// SubmitBatch calls f.
func (f TransportFunc) SubmitBatch(ctx context.Context, records []Record) ([]Outcome, error) {
	return f(ctx, records)
}

// TransportErrorKind classifies a failed submission call.
type TransportErrorKind int

const (
	KindOther TransportErrorKind = iota
	KindThrottled
	KindConnectionTimeout
	KindUnauthorized
)

func (k TransportErrorKind) String() string {
	switch k {
	case KindThrottled:
		return "Throttled"
	case KindConnectionTimeout:
		return "ConnectionTimeout"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Other"
	}
}

// TransportError is returned by a Transport when the submission call itself
// failed and no per-record outcome is available.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

// NewTransportError wraps err with a classification.
func NewTransportError(kind TransportErrorKind, err error) *TransportError {
	return &TransportError{Kind: kind, Err: err}
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error: %s", e.Kind)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
