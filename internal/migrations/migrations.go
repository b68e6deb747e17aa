// Package migrations embeds the outbox schema for every supported driver.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

// RunSQLite executes all SQLite migrations in order.
func RunSQLite(ctx context.Context, db *sql.DB) error {
	return run("sqlite", func(name, stmt string) error {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		return nil
	})
}

// RunPostgres executes all PostgreSQL migrations in order.
func RunPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	return run("postgres", func(name, stmt string) error {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		return nil
	})
}

// Files lists the up migrations of a driver in execution order.
func Files(driver string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)
	return upFiles, nil
}

func run(driver string, exec func(name, stmt string) error) error {
	files, err := Files(driver)
	if err != nil {
		return err
	}

	// Statements use IF NOT EXISTS, so re-running is harmless.
	for _, file := range files {
		migration, err := migrationsFS.ReadFile(driver + "/" + file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if err := exec(file, string(migration)); err != nil {
			return err
		}
	}
	return nil
}
