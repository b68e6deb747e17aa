package outbox_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/streamrelay/internal/database"
	"github.com/felixgeelhaar/streamrelay/internal/migrations"
	"github.com/felixgeelhaar/streamrelay/internal/outbox"
)

func newSQLiteRepository(t *testing.T) *outbox.SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.RunSQLite(ctx, db))
	return outbox.NewSQLiteRepository(db)
}

func TestSQLiteRepository_SaveAndGetUnpublished(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	first := outbox.NewMessage("orders", []byte("one"))
	second := outbox.NewMessage("payments", []byte("two"))
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)

	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))
	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)

	msgs, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, first.EventID, msgs[0].EventID)
	assert.Equal(t, "orders", msgs[0].PartitionKey)
	assert.Equal(t, []byte("one"), msgs[0].Payload)
	assert.WithinDuration(t, first.CreatedAt, msgs[0].CreatedAt, time.Microsecond)
	assert.Nil(t, msgs[0].PublishedAt)
	assert.Equal(t, second.ID, msgs[1].ID)

	limited, err := repo.GetUnpublished(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteRepository_SaveBatch(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	msgs := []*outbox.Message{
		outbox.NewMessage("a", []byte("1")),
		outbox.NewMessage("b", []byte("2")),
		outbox.NewMessage("c", []byte("3")),
	}
	require.NoError(t, repo.SaveBatch(ctx, msgs))
	require.NoError(t, repo.SaveBatch(ctx, nil))

	for _, msg := range msgs {
		assert.NotZero(t, msg.ID)
	}

	got, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSQLiteRepository_MarkPublished(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	msg := outbox.NewMessage("a", []byte("1"))
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, repo.MarkPublished(ctx, msg.ID))

	got, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	due := outbox.NewMessage("due", []byte("1"))
	later := outbox.NewMessage("later", []byte("2"))
	require.NoError(t, repo.SaveBatch(ctx, []*outbox.Message{due, later}))

	require.NoError(t, repo.MarkFailed(ctx, due.ID, "Throttled: slow down", time.Now().Add(-time.Second)))
	require.NoError(t, repo.MarkFailed(ctx, later.ID, "Throttled: slow down", time.Now().Add(time.Hour)))

	got, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
	assert.Equal(t, 1, got[0].RetryCount)
	require.NotNil(t, got[0].LastError)
	assert.Equal(t, "Throttled: slow down", *got[0].LastError)
	assert.NotNil(t, got[0].NextRetryAt)
}

func TestSQLiteRepository_MarkDead(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	msg := outbox.NewMessage("a", []byte("1"))
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, repo.MarkDead(ctx, msg.ID, "Unauthorized"))

	got, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteRepository_DeleteOld(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	published := outbox.NewMessage("a", []byte("1"))
	pending := outbox.NewMessage("b", []byte("2"))
	require.NoError(t, repo.SaveBatch(ctx, []*outbox.Message{published, pending}))
	require.NoError(t, repo.MarkPublished(ctx, published.ID))

	deleted, err := repo.DeleteOld(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, deleted, "recently published messages are kept")

	deleted, err = repo.DeleteOld(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}
