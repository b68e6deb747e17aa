package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sqliteTimeLayout is fixed width so stored timestamps compare correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteColumns = `id, event_id, partition_key, payload, created_at, published_at,
	next_retry_at, retry_count, last_error, dead_lettered_at, dead_letter_reason`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	dbConn *sql.DB
}

// NewSQLiteRepository creates a new SQLite outbox repository.
func NewSQLiteRepository(dbConn *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{dbConn: dbConn}
}

type sqliteExecer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Save stores a new outbox message.
func (r *SQLiteRepository) Save(ctx context.Context, msg *Message) error {
	return r.insert(ctx, r.dbConn, msg)
}

// SaveBatch stores multiple outbox messages atomically.
func (r *SQLiteRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.dbConn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, msg := range msgs {
		if err := r.insert(ctx, tx, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) insert(ctx context.Context, execer sqliteExecer, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO outbox (event_id, partition_key, payload, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	return execer.QueryRowContext(ctx, query,
		msg.EventID.String(),
		msg.PartitionKey,
		msg.Payload,
		formatSQLiteTime(msg.CreatedAt),
	).Scan(&msg.ID)
}

// GetUnpublished retrieves messages due for delivery, oldest first.
func (r *SQLiteRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		SELECT ` + sqliteColumns + `
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id
		LIMIT ?
	`
	rows, err := r.dbConn.QueryContext(ctx, query, formatSQLiteTime(time.Now()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkPublished marks a message as successfully published.
func (r *SQLiteRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.dbConn.ExecContext(ctx,
		`UPDATE outbox SET published_at = ? WHERE id = ?`,
		formatSQLiteTime(time.Now()), id)
	return err
}

// MarkFailed records a publish failure and when to try again.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	query := `
		UPDATE outbox
		SET retry_count = retry_count + 1,
			last_error = ?,
			next_retry_at = ?
		WHERE id = ?
	`
	_, err := r.dbConn.ExecContext(ctx, query, errMsg, formatSQLiteTime(nextRetryAt), id)
	return err
}

// MarkDead marks a message as dead-lettered.
func (r *SQLiteRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE outbox
		SET dead_lettered_at = ?,
			dead_letter_reason = ?
		WHERE id = ?
	`
	_, err := r.dbConn.ExecContext(ctx, query, formatSQLiteTime(time.Now()), reason, id)
	return err
}

// DeleteOld removes published messages older than the retention period.
func (r *SQLiteRepository) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	result, err := r.dbConn.ExecContext(ctx,
		`DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < ?`,
		formatSQLiteTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanSQLiteMessage(rows *sql.Rows) (*Message, error) {
	var (
		msg              Message
		eventID          string
		createdAt        string
		publishedAt      sql.NullString
		nextRetryAt      sql.NullString
		lastError        sql.NullString
		deadLetteredAt   sql.NullString
		deadLetterReason sql.NullString
	)
	err := rows.Scan(
		&msg.ID,
		&eventID,
		&msg.PartitionKey,
		&msg.Payload,
		&createdAt,
		&publishedAt,
		&nextRetryAt,
		&msg.RetryCount,
		&lastError,
		&deadLetteredAt,
		&deadLetterReason,
	)
	if err != nil {
		return nil, err
	}

	if msg.EventID, err = uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("outbox row %d: %w", msg.ID, err)
	}
	if msg.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("outbox row %d: %w", msg.ID, err)
	}
	msg.PublishedAt = parseNullTime(publishedAt)
	msg.NextRetryAt = parseNullTime(nextRetryAt)
	msg.DeadLetteredAt = parseNullTime(deadLetteredAt)
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	if deadLetterReason.Valid {
		msg.DeadLetterReason = &deadLetterReason.String
	}

	return &msg, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(sqliteTimeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}
