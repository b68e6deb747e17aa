package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// BatchPublisher publishes a batch of records with partial-failure retry.
// *publisher.Publisher satisfies it.
type BatchPublisher interface {
	Publish(ctx context.Context, records []publisher.Record, cfg publisher.Config) (*publisher.Result, error)
}

// ProcessorConfig holds configuration for the outbox processor.
type ProcessorConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	// Publish bounds the in-poll retries of every batch.
	Publish publisher.Config
}

// DefaultProcessorConfig returns sensible defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     time.Second,
		BatchSize:        500,
		MaxRetries:       5,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  1 * time.Minute,
		Publish:          publisher.DefaultConfig(),
	}
}

// Processor polls the outbox and relays messages to the stream.
type Processor struct {
	repo      Repository
	publisher BatchPublisher
	config    ProcessorConfig
	logger    *slog.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// NewProcessor creates a new outbox processor.
func NewProcessor(repo Repository, pub BatchPublisher, config ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	return &Processor{
		repo:      repo,
		publisher: pub,
		config:    config,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	if p.config.PollInterval <= 0 {
		p.mu.Unlock()
		return fmt.Errorf("outbox: poll interval must be positive, got %s", p.config.PollInterval)
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
	)

	return nil
}

// Stop gracefully stops the processor and waits for the current poll.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("outbox processor stopped")
}

// IsRunning returns true if the processor is running.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.logger.Error("failed to process outbox batch", "error", err)
			}
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) error {
	messages, err := p.repo.GetUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.recordError(err)
		return err
	}

	p.recordProcessed(messages)
	if len(messages) == 0 {
		return nil
	}

	return p.publishMessages(ctx, messages)
}

// publishMessages publishes messages as one batch. A batch the transport
// rejects as too large is split in halves until single messages remain, so
// only a message that is too large on its own is charged a retry.
func (p *Processor) publishMessages(ctx context.Context, messages []*Message) error {
	records := make([]publisher.Record, len(messages))
	for i, msg := range messages {
		records[i] = msg.Record()
	}

	result, pubErr := p.publisher.Publish(ctx, records, p.config.Publish)
	if result == nil {
		// Nothing is known about the batch; leave it for the next poll.
		if pubErr == nil {
			pubErr = errors.New("publisher returned no result")
		}
		p.recordError(pubErr)
		return fmt.Errorf("publish outbox batch: %w", pubErr)
	}

	if errors.Is(pubErr, publisher.ErrBatchRejected) && len(messages) > 1 {
		mid := len(messages) / 2
		p.logger.Info("outbox batch rejected, splitting",
			"messages", len(messages),
			"first", mid,
			"second", len(messages)-mid,
		)
		if err := p.publishMessages(ctx, messages[:mid]); err != nil {
			return err
		}
		return p.publishMessages(ctx, messages[mid:])
	}

	// Marks must land even when the poll is being cancelled.
	markCtx := context.WithoutCancel(ctx)

	for _, d := range result.Delivered {
		msg := messages[d.Index]
		if err := p.repo.MarkPublished(markCtx, msg.ID); err != nil {
			p.logger.Error("failed to mark message as published",
				"id", msg.ID,
				"event_id", msg.EventID,
				"error", err,
			)
			continue
		}
		p.recordPublished()
	}

	for _, f := range result.Failed {
		p.markFailure(markCtx, messages[f.Index], f)
	}

	if left := len(result.Unsent) + len(result.Unknown); left > 0 {
		p.logger.Info("outbox messages left for next poll",
			"unsent", len(result.Unsent),
			"unknown", len(result.Unknown),
		)
	}

	var cancelled *publisher.CancelledError
	if pubErr != nil && !errors.As(pubErr, &cancelled) {
		p.recordError(pubErr)
	}

	return nil
}

func (p *Processor) markFailure(ctx context.Context, msg *Message, f publisher.FailedRecord) {
	reason := f.ErrorCode
	if f.ErrorMessage != "" {
		reason = f.ErrorCode + ": " + f.ErrorMessage
	}

	p.logger.Warn("failed to publish message",
		"id", msg.ID,
		"partition_key", msg.PartitionKey,
		"event_id", msg.EventID,
		"retry_count", msg.RetryCount,
		"error_code", f.ErrorCode,
	)

	if p.shouldDeadLetter(msg) {
		p.recordDead(reason)
		if err := p.repo.MarkDead(ctx, msg.ID, reason); err != nil {
			p.logger.Error("failed to mark message as dead-lettered",
				"id", msg.ID,
				"error", err,
			)
		}
		return
	}

	p.recordFailed(reason)
	nextRetryAt := time.Now().Add(p.retryBackoff(msg.RetryCount + 1))
	if err := p.repo.MarkFailed(ctx, msg.ID, reason, nextRetryAt); err != nil {
		p.logger.Error("failed to mark message as failed",
			"id", msg.ID,
			"error", err,
		)
	}
}

func (p *Processor) shouldDeadLetter(msg *Message) bool {
	if p.config.MaxRetries <= 0 {
		return true
	}
	return msg.RetryCount+1 >= p.config.MaxRetries
}

func (p *Processor) retryBackoff(nextRetryCount int) time.Duration {
	base := p.config.RetryBackoffBase
	if base <= 0 {
		base = time.Second
	}
	max := p.config.RetryBackoffMax
	if max <= 0 {
		max = time.Minute
	}
	if nextRetryCount < 1 {
		nextRetryCount = 1
	}

	backoff := base
	for i := 1; i < nextRetryCount; i++ {
		backoff *= 2
		if backoff >= max || backoff <= 0 {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

// ProcessOnce processes a single batch synchronously.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	return p.processBatch(ctx)
}

// Stats returns processor statistics.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

// GetStats returns current processor statistics.
func (p *Processor) GetStats() Stats {
	running := p.IsRunning()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	stats := p.stats
	stats.IsRunning = running
	return stats
}

func (p *Processor) recordPublished() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.PublishedCount++
}

func (p *Processor) recordFailed(reason string) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.FailedCount++
	p.setLastError(reason)
}

func (p *Processor) recordDead(reason string) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.DeadCount++
	p.setLastError(reason)
}

func (p *Processor) recordError(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.setLastError(err.Error())
}

// setLastError requires statsMu.
func (p *Processor) setLastError(reason string) {
	now := time.Now()
	p.stats.LastError = reason
	p.stats.LastErrorAt = &now
}

func (p *Processor) recordProcessed(messages []*Message) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	now := time.Now()
	p.stats.LastProcessedAt = &now
	if len(messages) == 0 {
		p.stats.LagSeconds = 0
		p.stats.OldestMessageAt = nil
		return
	}

	oldest := messages[0].CreatedAt
	for _, msg := range messages[1:] {
		if msg.CreatedAt.Before(oldest) {
			oldest = msg.CreatedAt
		}
	}
	p.stats.OldestMessageAt = &oldest
	p.stats.LagSeconds = now.Sub(oldest).Seconds()
}
