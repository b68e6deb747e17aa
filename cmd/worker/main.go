package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/streamrelay/internal/app"
	"github.com/felixgeelhaar/streamrelay/internal/outbox"
	"github.com/felixgeelhaar/streamrelay/pkg/config"
	"github.com/felixgeelhaar/streamrelay/pkg/observability"
)

var version = "dev"

func main() {
	logger := observability.BootstrapLogger()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = observability.LoggerFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, version)
	logger.Info("starting streamrelay worker", "transport", cfg.Transport, "stream", cfg.StreamName)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	outboxRepo, err := container.OpenOutbox(ctx)
	if err != nil {
		return err
	}

	processorConfig := container.ProcessorConfig()
	processor := outbox.NewProcessor(outboxRepo, container.Publisher, processorConfig, logger)

	logger.Info("starting outbox processor",
		"poll_interval", processorConfig.PollInterval,
		"batch_size", processorConfig.BatchSize,
		"max_retries", processorConfig.MaxRetries,
		"max_attempts", processorConfig.Publish.MaxAttempts,
	)
	if err := processor.Start(ctx); err != nil {
		return err
	}

	go runCleanup(ctx, cfg, outboxRepo, container.Metrics, logger)
	go runStats(ctx, cfg.OutboxStatsInterval, processor, container.Metrics, logger)

	if cfg.WorkerHealthAddr != "" {
		checks := container.HealthChecks()
		checks.Add("outbox", observability.OutboxLagCheck(func() float64 {
			return processor.GetStats().LagSeconds
		}, cfg.OutboxMaxLag))
		startHealthServer(ctx, cfg.WorkerHealthAddr, checks, processor, container.Metrics, logger)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down worker")

	processor.Stop()
	return nil
}

func runCleanup(ctx context.Context, cfg *config.Config, repo outbox.Repository, metrics observability.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.OutboxCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteOld(ctx, cfg.OutboxRetentionDays)
			if err != nil {
				logger.Error("outbox cleanup failed", "error", err)
				continue
			}
			metrics.Counter(observability.MetricOutboxDeleted, deleted)
			if deleted > 0 {
				logger.Info("outbox cleanup completed", "deleted", deleted, "retention_days", cfg.OutboxRetentionDays)
			}
		}
	}
}

func runStats(ctx context.Context, interval time.Duration, processor *outbox.Processor, metrics observability.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := processor.GetStats()
			recordStats(metrics, stats)
			logger.Info("outbox stats",
				"running", stats.IsRunning,
				"published", stats.PublishedCount,
				"failed", stats.FailedCount,
				"dead", stats.DeadCount,
				"lag_seconds", stats.LagSeconds,
				"oldest_message_at", stats.OldestMessageAt,
				"last_processed_at", stats.LastProcessedAt,
				"last_error_at", stats.LastErrorAt,
				"last_error", stats.LastError,
			)
		}
	}
}

func recordStats(metrics observability.Metrics, stats outbox.Stats) {
	metrics.Gauge(observability.MetricOutboxPublished, float64(stats.PublishedCount))
	metrics.Gauge(observability.MetricOutboxFailed, float64(stats.FailedCount))
	metrics.Gauge(observability.MetricOutboxDead, float64(stats.DeadCount))
	metrics.Gauge(observability.MetricOutboxLagSeconds, stats.LagSeconds)
}

func startHealthServer(ctx context.Context, addr string, checks *observability.HealthChecks, processor *outbox.Processor, metrics *observability.PrometheusMetrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := processor.GetStats()
		response := map[string]any{
			"status":            "ok",
			"running":           stats.IsRunning,
			"published":         stats.PublishedCount,
			"failed":            stats.FailedCount,
			"dead":              stats.DeadCount,
			"last_processed_at": stats.LastProcessedAt,
			"last_error_at":     stats.LastErrorAt,
			"last_error":        stats.LastError,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		health := checks.Run(checkCtx)
		w.Header().Set("Content-Type", "application/json")
		if health.Status == observability.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})

	mux.Handle("/metrics", metrics.Handler())

	healthSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health server starting", "addr", addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()
}
