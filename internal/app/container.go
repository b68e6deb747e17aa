// Package app wires configuration, transports, the publisher and the stores
// into the dependencies shared by the relay CLI and the outbox worker.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/streamrelay/internal/database"
	"github.com/felixgeelhaar/streamrelay/internal/migrations"
	"github.com/felixgeelhaar/streamrelay/internal/outbox"
	"github.com/felixgeelhaar/streamrelay/internal/publisher"
	"github.com/felixgeelhaar/streamrelay/internal/receipts"
	"github.com/felixgeelhaar/streamrelay/internal/transport/breaker"
	"github.com/felixgeelhaar/streamrelay/internal/transport/kinesis"
	"github.com/felixgeelhaar/streamrelay/internal/transport/memory"
	"github.com/felixgeelhaar/streamrelay/internal/transport/rabbitmq"
	"github.com/felixgeelhaar/streamrelay/pkg/config"
	"github.com/felixgeelhaar/streamrelay/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.PrometheusMetrics

	// Transport is the transport the publisher submits to, breaker included.
	Transport publisher.Transport
	Breaker   *breaker.Transport
	Publisher *publisher.Publisher

	Receipts receipts.Store

	// Outbox storage, set by OpenOutbox.
	OutboxRepo outbox.Repository
	DB         *pgxpool.Pool
	DBConn     *sql.DB

	closers []func() error
}

// NewContainer creates and wires the publishing dependencies. The outbox
// database is opened separately by OpenOutbox.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewPrometheusMetrics(),
	}

	transport, err := c.newTransport(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	if cfg.BreakerEnabled {
		c.Breaker = breaker.New(transport, breaker.Config{
			Name:             cfg.StreamName,
			FailureThreshold: uint32(max(cfg.BreakerFailureThreshold, 1)),
			MaxRequests:      1,
			Interval:         cfg.BreakerInterval,
			Timeout:          cfg.BreakerTimeout,
		}, logger)
		transport = c.Breaker
	}
	c.Transport = transport

	c.Publisher = publisher.New(transport,
		publisher.WithLogger(logger),
		publisher.WithObserver(observability.PublishObserver(logger, c.Metrics, cfg.StreamName)),
	)

	c.Receipts, err = c.newReceiptStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Container) newTransport(ctx context.Context) (publisher.Transport, error) {
	cfg := c.Config

	switch cfg.Transport {
	case config.TransportKinesis:
		client, err := kinesis.NewClient(ctx, kinesis.ClientConfig{
			Region:         cfg.AWSRegion,
			Endpoint:       cfg.KinesisEndpoint,
			MaxAttempts:    cfg.SDKMaxAttempts,
			ConnectTimeout: cfg.ConnectionTimeout,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kinesis client: %w", err)
		}
		c.Logger.Info("using Kinesis transport", "stream", cfg.StreamName, "region", cfg.AWSRegion)
		return kinesis.New(client, cfg.StreamName, c.Logger), nil

	case config.TransportRabbitMQ:
		t, err := rabbitmq.Dial(rabbitmq.Config{
			URL:            cfg.RabbitMQURL,
			Exchange:       cfg.RabbitMQExchange,
			ConnectTimeout: cfg.ConnectionTimeout,
		}, c.Logger)
		if err != nil {
			if !cfg.IsDevelopment() {
				return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
			}
			c.Logger.Warn("RabbitMQ not available, using in-memory stream", "error", err)
			return c.newMemoryStream(), nil
		}
		c.closers = append(c.closers, t.Close)
		c.Logger.Info("using RabbitMQ transport", "exchange", cfg.RabbitMQExchange)
		return t, nil

	default:
		return c.newMemoryStream(), nil
	}
}

func (c *Container) newMemoryStream() *memory.Stream {
	streamCfg := memory.DefaultConfig()
	streamCfg.Name = c.Config.StreamName
	if c.Config.MemoryShards > 0 {
		streamCfg.Shards = c.Config.MemoryShards
	}
	if c.Config.MemoryRecordsPerSecond > 0 {
		streamCfg.RecordsPerWindow = c.Config.MemoryRecordsPerSecond
	}
	c.Logger.Info("using in-memory stream",
		"stream", streamCfg.Name,
		"shards", streamCfg.Shards,
		"records_per_second", streamCfg.RecordsPerWindow,
	)
	return memory.NewStream(streamCfg, nil, c.Logger)
}

func (c *Container) newReceiptStore(ctx context.Context) (receipts.Store, error) {
	cfg := c.Config
	if cfg.RedisURL == "" {
		return receipts.NewMemoryStore(), nil
	}

	store, err := receipts.Connect(ctx, cfg.RedisURL, cfg.ReceiptsTTL)
	if err != nil {
		if !cfg.IsDevelopment() {
			return nil, err
		}
		c.Logger.Warn("Redis not available, receipts kept in memory", "error", err)
		return receipts.NewMemoryStore(), nil
	}
	c.closers = append(c.closers, store.Close)
	c.Logger.Info("connected to Redis")
	return store, nil
}

// OpenOutbox opens the configured outbox database, applies migrations and
// sets OutboxRepo.
func (c *Container) OpenOutbox(ctx context.Context) (outbox.Repository, error) {
	if c.OutboxRepo != nil {
		return c.OutboxRepo, nil
	}
	cfg := c.Config

	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			return nil, err
		}
		if err := migrations.RunPostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate outbox: %w", err)
		}
		c.DB = pool
		c.OutboxRepo = outbox.NewPostgresRepository(pool)
		c.Logger.Info("connected to PostgreSQL")

	default:
		conn, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := migrations.RunSQLite(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to migrate outbox: %w", err)
		}
		c.DBConn = conn
		c.OutboxRepo = outbox.NewSQLiteRepository(conn)
		c.Logger.Info("opened SQLite outbox", "path", cfg.SQLitePath)
	}

	return c.OutboxRepo, nil
}

// PingDatabase checks the outbox database connection.
func (c *Container) PingDatabase(ctx context.Context) error {
	switch {
	case c.DB != nil:
		return c.DB.Ping(ctx)
	case c.DBConn != nil:
		return c.DBConn.PingContext(ctx)
	default:
		return fmt.Errorf("outbox database not opened")
	}
}

// HealthChecks returns the health checks of the opened dependencies. The
// database check is only added once OpenOutbox has run.
func (c *Container) HealthChecks() *observability.HealthChecks {
	checks := observability.NewHealthChecks()

	if c.DB != nil || c.DBConn != nil {
		checks.Add("database", observability.PingCheck(c.PingDatabase, observability.StatusUnhealthy))
	}

	if store, ok := c.Receipts.(*receipts.RedisStore); ok {
		checks.Add("receipts", observability.PingCheck(store.Ping, observability.StatusDegraded))
	}

	if c.Breaker != nil {
		checks.Add("stream", observability.CircuitCheck(c.Breaker.State))
	}

	return checks
}

// PublishConfig returns the retry configuration for a publish starting at now.
func (c *Container) PublishConfig(now time.Time) publisher.Config {
	cfg := publisher.Config{
		MaxAttempts: c.Config.MaxAttempts,
		BaseDelay:   c.Config.RetryBaseDelay,
		MaxDelay:    c.Config.RetryMaxDelay,
		Jitter:      c.Config.RetryJitter,
	}
	if c.Config.PublishDeadline > 0 {
		cfg.Deadline = now.Add(c.Config.PublishDeadline)
	}
	return cfg
}

// ProcessorConfig returns the outbox processor configuration.
func (c *Container) ProcessorConfig() outbox.ProcessorConfig {
	return outbox.ProcessorConfig{
		PollInterval:     c.Config.OutboxPollInterval,
		BatchSize:        c.Config.OutboxBatchSize,
		MaxRetries:       c.Config.OutboxMaxRetries,
		RetryBackoffBase: c.Config.OutboxRetryBackoffBase,
		RetryBackoffMax:  c.Config.OutboxRetryBackoffMax,
		// No deadline: undelivered messages wait for the next poll.
		Publish: publisher.Config{
			MaxAttempts: c.Config.MaxAttempts,
			BaseDelay:   c.Config.RetryBaseDelay,
			MaxDelay:    c.Config.RetryMaxDelay,
			Jitter:      c.Config.RetryJitter,
		},
	}
}

// Close releases all resources.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("error closing resource", "error", err)
		}
	}
	c.closers = nil

	if c.DB != nil {
		c.DB.Close()
		c.Logger.Info("PostgreSQL connection closed")
	}

	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing SQLite connection", "error", err)
		} else {
			c.Logger.Info("SQLite connection closed")
		}
	}
}
