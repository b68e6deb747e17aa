// Package outbox relays durably stored messages to the stream through the
// publisher, giving at-least-once delivery across process restarts.
package outbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// Message represents an outbox message waiting to be relayed.
type Message struct {
	ID               int64
	EventID          uuid.UUID
	PartitionKey     string
	Payload          []byte
	CreatedAt        time.Time
	PublishedAt      *time.Time
	NextRetryAt      *time.Time
	RetryCount       int
	LastError        *string
	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage creates an outbox message for payload.
func NewMessage(partitionKey string, payload []byte) *Message {
	return &Message{
		EventID:      uuid.New(),
		PartitionKey: partitionKey,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
}

// IsPublished returns true if the message has been published.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

// CanRetry returns true if the message can be retried.
func (m *Message) CanRetry(maxRetries int) bool {
	return m.RetryCount < maxRetries
}

// Record converts the message into a stream record.
func (m *Message) Record() publisher.Record {
	return publisher.Record{
		PartitionKey: m.PartitionKey,
		Data:         m.Payload,
	}
}
