package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/streamrelay/adapter/cli"
	"github.com/felixgeelhaar/streamrelay/internal/app"
	"github.com/felixgeelhaar/streamrelay/pkg/config"
	"github.com/felixgeelhaar/streamrelay/pkg/observability"
)

func main() {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	logger := observability.BootstrapLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = observability.LoggerFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, cli.Version)
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize relay", "error", err)
		os.Exit(1)
	}
	cli.SetContainer(container)
	err = cli.ExecuteContext(ctx)
	container.Close()
	if err != nil {
		os.Exit(1)
	}
}
