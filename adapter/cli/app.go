package cli

import (
	"context"
	"errors"
	"sync"

	"github.com/felixgeelhaar/streamrelay/internal/app"
	"github.com/felixgeelhaar/streamrelay/pkg/observability"
)

var errNoContainer = errors.New("relay is not initialized; check the configuration")

var (
	containerMu sync.RWMutex
	container   *app.Container
)

// SetContainer sets the dependencies used by the commands.
func SetContainer(c *app.Container) {
	containerMu.Lock()
	defer containerMu.Unlock()
	container = c
}

// GetContainer returns the dependencies used by the commands.
func GetContainer() *app.Container {
	containerMu.RLock()
	defer containerMu.RUnlock()
	return container
}

func contextWithValue(ctx context.Context, info commandContext) context.Context {
	return context.WithValue(ctx, commandContextKey{}, info)
}

// runID identifies one command invocation. It is the run ID of the command
// context so receipts and log lines share it.
func runID(ctx context.Context) string {
	_, id := observability.EnsureRunID(ctx)
	return id
}
