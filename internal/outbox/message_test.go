package outbox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/streamrelay/internal/outbox"
)

func TestMessage_NewMessage(t *testing.T) {
	msg := outbox.NewMessage("orders", []byte("payload"))

	assert.Equal(t, "orders", msg.PartitionKey)
	assert.NotEmpty(t, msg.EventID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.False(t, msg.IsPublished())
}

func TestMessage_IsPublished(t *testing.T) {
	msg := outbox.NewMessage("test", nil)
	assert.False(t, msg.IsPublished())

	now := time.Now()
	msg.PublishedAt = &now
	assert.True(t, msg.IsPublished())
}

func TestMessage_CanRetry(t *testing.T) {
	msg := outbox.NewMessage("test", nil)

	assert.True(t, msg.CanRetry(3))

	msg.RetryCount = 2
	assert.True(t, msg.CanRetry(3))

	msg.RetryCount = 3
	assert.False(t, msg.CanRetry(3))

	msg.RetryCount = 5
	assert.False(t, msg.CanRetry(3))
}

func TestMessage_Record(t *testing.T) {
	msg := outbox.NewMessage("orders", []byte("payload"))

	record := msg.Record()
	assert.Equal(t, "orders", record.PartitionKey)
	assert.Equal(t, []byte("payload"), record.Data)
}

func TestInMemoryRepository_DeleteOld(t *testing.T) {
	repo := outbox.NewInMemoryRepository()
	old := outbox.NewMessage("a", nil)
	fresh := outbox.NewMessage("b", nil)
	a := assert.New(t)
	a.NoError(repo.SaveBatch(t.Context(), []*outbox.Message{old, fresh}))

	past := time.Now().AddDate(0, 0, -10)
	old.PublishedAt = &past

	deleted, err := repo.DeleteOld(t.Context(), 7)
	a.NoError(err)
	a.Equal(int64(1), deleted)
	a.Len(repo.Messages(), 1)
}
