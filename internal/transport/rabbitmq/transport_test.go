package rabbitmq_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
	"github.com/felixgeelhaar/streamrelay/internal/transport/rabbitmq"
)

type fakeConfirmation struct {
	tag   uint64
	acked bool
	err   error
}

func (c fakeConfirmation) Tag() uint64 { return c.tag }

func (c fakeConfirmation) Wait(ctx context.Context) (bool, error) {
	return c.acked, c.err
}

// fakeChannel acks everything except keys in nack, and fails Publish for
// keys in publishErr.
type fakeChannel struct {
	published  []string
	nack       map[string]bool
	publishErr map[string]error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{nack: map[string]bool{}, publishErr: map[string]error{}}
}

func (c *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (rabbitmq.Confirmation, error) {
	if err := c.publishErr[routingKey]; err != nil {
		return nil, err
	}
	c.published = append(c.published, routingKey)
	return fakeConfirmation{tag: uint64(len(c.published)), acked: !c.nack[routingKey]}, nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func records(keys ...string) []publisher.Record {
	out := make([]publisher.Record, len(keys))
	for i, k := range keys {
		out[i] = publisher.Record{PartitionKey: k, Data: []byte(k)}
	}
	return out
}

func TestTransport_AcksAndNacks(t *testing.T) {
	ch := newFakeChannel()
	ch.nack["orders.b"] = true
	transport := rabbitmq.NewWithChannel(ch, "events", 0, nil)

	outcomes, err := transport.SubmitBatch(context.Background(), records("orders.a", "orders.b", "orders.c"))

	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[0].IsFailed())
	assert.Equal(t, "events", outcomes[0].Delivery.ShardID)
	assert.Equal(t, "1", outcomes[0].Delivery.SequenceNumber)
	assert.True(t, outcomes[1].IsFailed())
	assert.Equal(t, rabbitmq.NackCode, outcomes[1].ErrorCode)
	assert.False(t, outcomes[2].IsFailed())
	assert.Equal(t, []string{"orders.a", "orders.b", "orders.c"}, ch.published)
}

func TestTransport_PublishErrorOnFirstRecordIsTransportError(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr["a"] = &amqp.Error{Code: amqp.AccessRefused, Reason: "ACCESS_REFUSED"}
	transport := rabbitmq.NewWithChannel(ch, "events", 0, nil)

	_, err := transport.SubmitBatch(context.Background(), records("a", "b"))

	var te *publisher.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, publisher.KindUnauthorized, te.Kind)
}

func TestTransport_PublishErrorMidBatchFailsRemainder(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr["b"] = amqp.ErrClosed
	transport := rabbitmq.NewWithChannel(ch, "events", 0, nil)

	outcomes, err := transport.SubmitBatch(context.Background(), records("a", "b", "c"))

	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[0].IsFailed())
	assert.True(t, outcomes[1].IsFailed())
	assert.Equal(t, "ConnectionTimeout", outcomes[1].ErrorCode)
	assert.True(t, outcomes[2].IsFailed())
}

func TestTransport_ClassifiesBrokerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind publisher.TransportErrorKind
	}{
		{name: "resource error", err: &amqp.Error{Code: amqp.ResourceError}, kind: publisher.KindThrottled},
		{name: "connection forced", err: &amqp.Error{Code: amqp.ConnectionForced}, kind: publisher.KindConnectionTimeout},
		{name: "closed", err: amqp.ErrClosed, kind: publisher.KindConnectionTimeout},
		{name: "other", err: errors.New("boom"), kind: publisher.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			ch.publishErr["a"] = tt.err
			transport := rabbitmq.NewWithChannel(ch, "events", 0, nil)

			_, err := transport.SubmitBatch(context.Background(), records("a"))

			var te *publisher.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.kind, te.Kind)
		})
	}
}

func TestTransport_RejectsOversizedBatch(t *testing.T) {
	transport := rabbitmq.NewWithChannel(newFakeChannel(), "events", 2, nil)

	_, err := transport.SubmitBatch(context.Background(), records("a", "b", "c"))

	assert.ErrorIs(t, err, publisher.ErrBatchRejected)
}

func TestTransport_WorksWithPublisher(t *testing.T) {
	ch := newFakeChannel()
	transport := rabbitmq.NewWithChannel(ch, "events", 0, nil)
	p := publisher.New(transport)

	keys := make([]string, 5)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}
	result, err := p.Publish(context.Background(), records(keys...), publisher.Config{MaxAttempts: 1})

	require.NoError(t, err)
	assert.Len(t, result.Delivered, 5)
}

func TestTransport_Close(t *testing.T) {
	ch := newFakeChannel()
	transport := rabbitmq.NewWithChannel(ch, "events", 0, nil)

	require.NoError(t, transport.Close())
	assert.True(t, ch.closed)
}
