// Package memory provides an in-process stream transport with per-shard write
// budgets, used in local mode and to reproduce throttling without a cloud
// account.
package memory

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// ThroughputExceededCode is the error code of records rejected for exceeding
// a shard's write budget.
const ThroughputExceededCode = "ProvisionedThroughputExceededException"

// Config describes the simulated stream.
type Config struct {
	Name string
	// Shards is the number of shards records are hashed onto.
	Shards int
	// RecordsPerWindow is the write budget of one shard per Window.
	RecordsPerWindow int
	Window           time.Duration
	// MaxBatchSize is the largest batch SubmitBatch accepts.
	MaxBatchSize int
	// Retention is the number of most recent records kept per shard.
	Retention int
}

// DefaultConfig mirrors the per-shard limits of a Kinesis data stream.
func DefaultConfig() Config {
	return Config{
		Name:             "local-stream",
		Shards:           1,
		RecordsPerWindow: 1000,
		Window:           time.Second,
		MaxBatchSize:     500,
		Retention:        10000,
	}
}

// StoredRecord is a record accepted by the stream.
type StoredRecord struct {
	PartitionKey   string
	Data           []byte
	SequenceNumber string
	ArrivedAt      time.Time
}

type shard struct {
	id          string
	records     []StoredRecord
	windowStart time.Time
	used        int
	sequence    uint64
}

// trim drops old records once the shard holds twice its retention, so the
// copy happens once per retention's worth of appends.
func (sh *shard) trim(retention int) {
	if len(sh.records) < 2*retention {
		return
	}
	sh.records = append([]StoredRecord(nil), sh.records[len(sh.records)-retention:]...)
}

func (sh *shard) retained(retention int) []StoredRecord {
	if len(sh.records) > retention {
		return sh.records[len(sh.records)-retention:]
	}
	return sh.records
}

// Stream is an in-memory stream. It implements publisher.Transport.
type Stream struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	shards []*shard
}

// NewStream creates a stream. A nil clock means the wall clock.
func NewStream(config Config, c clock.Clock, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = clock.NewClock()
	}
	defaults := DefaultConfig()
	if config.Shards <= 0 {
		config.Shards = defaults.Shards
	}
	if config.RecordsPerWindow <= 0 {
		config.RecordsPerWindow = defaults.RecordsPerWindow
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaults.MaxBatchSize
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}

	shards := make([]*shard, config.Shards)
	for i := range shards {
		shards[i] = &shard{id: fmt.Sprintf("shardId-%012d", i)}
	}

	return &Stream{
		config: config,
		clock:  c,
		logger: logger,
		shards: shards,
	}
}

// SubmitBatch stores each record on the shard its partition key hashes to,
// failing records whose shard has used up its budget for the current window.
func (s *Stream) SubmitBatch(ctx context.Context, records []publisher.Record) ([]publisher.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%d records exceed the limit of %d: %w",
			len(records), s.config.MaxBatchSize, publisher.ErrBatchRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	outcomes := make([]publisher.Outcome, len(records))
	throttled := 0

	for i, record := range records {
		sh := s.shards[s.shardIndex(record.PartitionKey)]
		if now.Sub(sh.windowStart) >= s.config.Window {
			sh.windowStart = now
			sh.used = 0
		}

		if sh.used >= s.config.RecordsPerWindow {
			throttled++
			outcomes[i] = publisher.Failed(ThroughputExceededCode,
				fmt.Sprintf("Rate exceeded for shard %s in stream %s", sh.id, s.config.Name))
			continue
		}

		sh.used++
		sh.sequence++
		seq := fmt.Sprintf("%056d", sh.sequence)
		sh.records = append(sh.records, StoredRecord{
			PartitionKey:   record.PartitionKey,
			Data:           append([]byte(nil), record.Data...),
			SequenceNumber: seq,
			ArrivedAt:      now,
		})
		sh.trim(s.config.Retention)
		outcomes[i] = publisher.Delivered(sh.id, seq)
	}

	s.logger.Debug("memory stream put records",
		"stream", s.config.Name,
		"records", len(records),
		"throttled", throttled,
	)

	return outcomes, nil
}

func (s *Stream) shardIndex(partitionKey string) int {
	sum := md5.Sum([]byte(partitionKey))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(len(s.shards)))
}

// ShardFor returns the shard id a partition key maps to.
func (s *Stream) ShardFor(partitionKey string) string {
	return s.shards[s.shardIndex(partitionKey)].id
}

// Records returns a copy of the records stored on a shard.
func (s *Stream) Records(shardID string) []StoredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sh := range s.shards {
		if sh.id == shardID {
			return append([]StoredRecord(nil), sh.retained(s.config.Retention)...)
		}
	}
	return nil
}

// Len returns the number of records stored across all shards.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, sh := range s.shards {
		total += len(sh.retained(s.config.Retention))
	}
	return total
}
