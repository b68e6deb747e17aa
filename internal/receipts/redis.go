package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each run in one hash, field = record index, value = JSON
// receipt. Keys are namespaced: streamrelay:receipts:{run_id}
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis backed store. A ttl <= 0 uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Connect parses url, pings the server and returns a store on success.
func Connect(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

func (s *RedisStore) key(runID string) string {
	return "streamrelay:receipts:" + runID
}

// Save writes receipts and refreshes the run's TTL in one transaction.
func (s *RedisStore) Save(ctx context.Context, runID string, receipts []Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	fields := make(map[string]any, len(receipts))
	for _, r := range receipts {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		fields[strconv.Itoa(r.Index)] = data
	}

	key := s.key(runID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

// Get returns the receipts of a run ordered by index.
func (s *RedisStore) Get(ctx context.Context, runID string) ([]Receipt, error) {
	values, err := s.client.HGetAll(ctx, s.key(runID)).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrRunNotFound
	}

	out := make([]Receipt, 0, len(values))
	for field, value := range values {
		var r Receipt
		if err := json.Unmarshal([]byte(value), &r); err != nil {
			return nil, fmt.Errorf("receipt %s of run %s: %w", field, runID, err)
		}
		out = append(out, r)
	}
	sortByIndex(out)
	return out, nil
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
