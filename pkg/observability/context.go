package observability

import (
	"context"

	"github.com/google/uuid"
)

// RunIDKey is the log attribute that carries the run ID.
const RunIDKey = "run_id"

type runIDKey struct{}

// WithRunID returns a context carrying id. An empty id gets a fresh UUID.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run ID carried by ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// EnsureRunID returns ctx and its run ID, attaching a new one if ctx has none.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id := RunIDFromContext(ctx); id != "" {
		return ctx, id
	}
	ctx = WithRunID(ctx, "")
	return ctx, RunIDFromContext(ctx)
}
