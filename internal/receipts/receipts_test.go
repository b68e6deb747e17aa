package receipts_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
	"github.com/felixgeelhaar/streamrelay/internal/receipts"
)

func sampleResult() *publisher.Result {
	return &publisher.Result{
		Attempts:  2,
		Submitted: 3,
		Delivered: []publisher.DeliveredRecord{
			{
				IndexedRecord: publisher.IndexedRecord{Index: 2, Record: publisher.Record{PartitionKey: "c"}},
				Delivery:      publisher.Delivery{ShardID: "shardId-000000000001", SequenceNumber: "300"},
				Attempt:       1,
			},
			{
				IndexedRecord: publisher.IndexedRecord{Index: 0, Record: publisher.Record{PartitionKey: "a"}},
				Delivery:      publisher.Delivery{ShardID: "shardId-000000000000", SequenceNumber: "100"},
				Attempt:       2,
			},
		},
		Failed: []publisher.FailedRecord{
			{IndexedRecord: publisher.IndexedRecord{Index: 1, Record: publisher.Record{PartitionKey: "b"}}, ErrorCode: "InternalFailure"},
		},
	}
}

func TestFromResult(t *testing.T) {
	got := receipts.FromResult(sampleResult())

	require.Len(t, got, 2)
	assert.Equal(t, receipts.Receipt{
		Index:          2,
		PartitionKey:   "c",
		ShardID:        "shardId-000000000001",
		SequenceNumber: "300",
		Attempt:        1,
	}, got[0])
	assert.Equal(t, 2, got[1].Attempt)

	assert.Nil(t, receipts.FromResult(nil))
}

func testStore(t *testing.T, store receipts.Store) {
	t.Helper()
	ctx := context.Background()
	runID := uuid.NewString()

	_, err := store.Get(ctx, runID)
	assert.ErrorIs(t, err, receipts.ErrRunNotFound)

	require.NoError(t, store.Save(ctx, runID, receipts.FromResult(sampleResult())))
	require.NoError(t, store.Save(ctx, runID, []receipts.Receipt{
		{Index: 1, PartitionKey: "b", ShardID: "shardId-000000000000", SequenceNumber: "200", Attempt: 3},
	}))
	require.NoError(t, store.Save(ctx, runID, nil))

	got, err := store.Get(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, "200", got[1].SequenceNumber)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, receipts.NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	store, err := receipts.Connect(context.Background(), url, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := receipts.Connect(context.Background(), "not a url", time.Minute)
	require.Error(t, err)
}
