package publisher

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult pairs the outcome of one batch in a PublishAll call.
type BatchResult struct {
	Result *Result
	Err    error
}

// PublishAll publishes independent batches concurrently with at most limit
// Publish calls in flight. A limit below 1 means no limit. Results are
// returned in batch order. One batch failing does not stop the others.
func PublishAll(ctx context.Context, p *Publisher, batches [][]Record, cfg Config, limit int) []BatchResult {
	results := make([]BatchResult, len(batches))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, batch := range batches {
		g.Go(func() error {
			res, err := p.Publish(ctx, batch, cfg)
			results[i] = BatchResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
