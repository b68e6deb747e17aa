package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/streamrelay/internal/database"
)

func TestOpenSQLite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "outbox.db")

	db, err := database.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, path)
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, err := database.OpenPostgres(context.Background(), "", 0)

	assert.Error(t, err)
}

func TestDefaultSQLitePath(t *testing.T) {
	assert.Equal(t, "outbox.db", filepath.Base(database.DefaultSQLitePath()))
}
