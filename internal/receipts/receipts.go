// Package receipts keeps the shard and sequence number of every delivered
// record, keyed by publish run, so operators can look a batch up afterwards.
package receipts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// ErrRunNotFound is returned when no receipts exist for a run.
var ErrRunNotFound = errors.New("receipts: run not found")

// DefaultTTL is how long receipts are kept.
const DefaultTTL = 24 * time.Hour

// Receipt is the delivery metadata of one record.
type Receipt struct {
	Index          int    `json:"index"`
	PartitionKey   string `json:"partition_key"`
	ShardID        string `json:"shard_id"`
	SequenceNumber string `json:"sequence_number"`
	Attempt        int    `json:"attempt"`
}

// FromResult builds receipts for the delivered records of result.
func FromResult(result *publisher.Result) []Receipt {
	if result == nil {
		return nil
	}
	out := make([]Receipt, 0, len(result.Delivered))
	for _, d := range result.Delivered {
		out = append(out, Receipt{
			Index:          d.Index,
			PartitionKey:   d.Record.PartitionKey,
			ShardID:        d.Delivery.ShardID,
			SequenceNumber: d.Delivery.SequenceNumber,
			Attempt:        d.Attempt,
		})
	}
	return out
}

// Store persists receipts per run.
type Store interface {
	// Save adds receipts to a run. Saving the same index twice overwrites it.
	Save(ctx context.Context, runID string, receipts []Receipt) error

	// Get returns the receipts of a run ordered by index.
	Get(ctx context.Context, runID string) ([]Receipt, error)
}

func sortByIndex(receipts []Receipt) {
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].Index < receipts[j].Index
	})
}

// MemoryStore is an in-memory Store for local mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]map[int]Receipt
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]map[int]Receipt)}
}

func (s *MemoryStore) Save(ctx context.Context, runID string, receipts []Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		run = make(map[int]Receipt, len(receipts))
		s.runs[runID] = run
	}
	for _, r := range receipts {
		run[r.Index] = r
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) ([]Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := make([]Receipt, 0, len(run))
	for _, r := range run {
		out = append(out, r)
	}
	sortByIndex(out)
	return out, nil
}
