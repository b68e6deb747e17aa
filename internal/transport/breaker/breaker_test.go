package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
	"github.com/felixgeelhaar/streamrelay/internal/transport/breaker"
)

type countingTransport struct {
	calls int
	err   error
}

func (c *countingTransport) SubmitBatch(ctx context.Context, records []publisher.Record) ([]publisher.Outcome, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]publisher.Outcome, len(records))
	for i := range out {
		out[i] = publisher.Failed("InternalFailure", "partial")
	}
	return out, nil
}

func testConfig() breaker.Config {
	return breaker.Config{Name: "test", FailureThreshold: 2, MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour}
}

func TestBreaker_OpensAfterConsecutiveTransportErrors(t *testing.T) {
	next := &countingTransport{err: publisher.NewTransportError(publisher.KindConnectionTimeout, errors.New("timeout"))}
	tr := breaker.New(next, testConfig(), nil)
	batch := []publisher.Record{{PartitionKey: "a"}}

	for i := 0; i < 2; i++ {
		_, err := tr.SubmitBatch(context.Background(), batch)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, tr.State())

	_, err := tr.SubmitBatch(context.Background(), batch)

	var te *publisher.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, publisher.KindThrottled, te.Kind)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.calls)
}

func TestBreaker_PartialFailuresDoNotTrip(t *testing.T) {
	next := &countingTransport{}
	tr := breaker.New(next, testConfig(), nil)

	for i := 0; i < 5; i++ {
		outcomes, err := tr.SubmitBatch(context.Background(), []publisher.Record{{PartitionKey: "a"}})
		require.NoError(t, err)
		assert.True(t, outcomes[0].IsFailed())
	}
	assert.Equal(t, gobreaker.StateClosed, tr.State())
}

func TestBreaker_IgnoresCancellationAndRejection(t *testing.T) {
	next := &countingTransport{err: context.Canceled}
	tr := breaker.New(next, testConfig(), nil)

	for i := 0; i < 3; i++ {
		_, _ = tr.SubmitBatch(context.Background(), []publisher.Record{{PartitionKey: "a"}})
	}
	next.err = publisher.ErrBatchRejected
	for i := 0; i < 3; i++ {
		_, _ = tr.SubmitBatch(context.Background(), []publisher.Record{{PartitionKey: "a"}})
	}

	assert.Equal(t, gobreaker.StateClosed, tr.State())
	assert.Equal(t, 6, next.calls)
}

func TestBreaker_IgnoresCallerDeadline(t *testing.T) {
	next := &countingTransport{err: publisher.NewTransportError(publisher.KindConnectionTimeout, context.DeadlineExceeded)}
	tr := breaker.New(next, testConfig(), nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := tr.SubmitBatch(ctx, []publisher.Record{{PartitionKey: "a"}})
		var te *publisher.TransportError
		require.ErrorAs(t, err, &te)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Equal(t, gobreaker.StateClosed, tr.State())
	assert.Equal(t, 3, next.calls)
}

func TestBreaker_CountsTransportTimeoutsWithLiveContext(t *testing.T) {
	next := &countingTransport{err: publisher.NewTransportError(publisher.KindConnectionTimeout, context.DeadlineExceeded)}
	tr := breaker.New(next, testConfig(), nil)

	for i := 0; i < 2; i++ {
		_, _ = tr.SubmitBatch(context.Background(), []publisher.Record{{PartitionKey: "a"}})
	}

	assert.Equal(t, gobreaker.StateOpen, tr.State())
}
