// Package rabbitmq delivers record batches to a RabbitMQ topic exchange using
// publisher confirms, so every record gets its own ack or nack.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

const (
	// DefaultExchange is the topic exchange records are published to.
	DefaultExchange = "streamrelay.records"

	// NackCode is the outcome error code of records the broker refused.
	NackCode = "Nack"
)

// Confirmation is the broker's pending answer for one published message.
type Confirmation interface {
	Tag() uint64
	Wait(ctx context.Context) (bool, error)
}

// Channel is the subset of an AMQP channel the transport needs.
type Channel interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (Confirmation, error)
	Close() error
}

// Config configures the transport.
type Config struct {
	URL            string
	Exchange       string
	ConnectTimeout time.Duration
	// MaxBatchSize bounds a single SubmitBatch call. Zero means 500.
	MaxBatchSize int
}

// Transport implements publisher.Transport.
type Transport struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	maxBatch int
	logger   *slog.Logger
	mu       sync.Mutex
}

// Dial connects to RabbitMQ, declares the exchange and switches the channel
// into confirm mode.
func Dial(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(cfg.ConnectTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("RabbitMQ transport connected",
		"exchange", cfg.Exchange,
	)

	t := NewWithChannel(&amqpChannel{ch: ch}, cfg.Exchange, cfg.MaxBatchSize, logger)
	t.conn = conn
	return t, nil
}

// NewWithChannel builds a transport on an existing confirm-mode channel.
func NewWithChannel(ch Channel, exchange string, maxBatch int, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Transport{
		channel:  ch,
		exchange: exchange,
		maxBatch: maxBatch,
		logger:   logger,
	}
}

// SubmitBatch publishes every record with its partition key as routing key
// and waits for the broker's confirms.
func (t *Transport) SubmitBatch(ctx context.Context, records []publisher.Record) ([]publisher.Outcome, error) {
	if len(records) > t.maxBatch {
		return nil, fmt.Errorf("%d records exceed the limit of %d: %w", len(records), t.maxBatch, publisher.ErrBatchRejected)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	outcomes := make([]publisher.Outcome, len(records))
	confirms := make([]Confirmation, 0, len(records))
	now := time.Now()

	for i, r := range records {
		confirm, err := t.channel.Publish(ctx, t.exchange, r.PartitionKey, amqp.Publishing{
			ContentType:  "application/octet-stream",
			DeliveryMode: amqp.Persistent,
			Timestamp:    now,
			Body:         r.Data,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			classified := classify(err)
			if i == 0 {
				return nil, classified
			}
			// Earlier records are already with the broker; report the rest
			// as failed so only they are retried.
			t.logger.Warn("publish interrupted mid-batch",
				"exchange", t.exchange,
				"published", i,
				"records", len(records),
				"error", err,
			)
			for j := i; j < len(records); j++ {
				outcomes[j] = publisher.Failed(classified.Kind.String(), err.Error())
			}
			break
		}
		confirms = append(confirms, confirm)
	}

	for i, confirm := range confirms {
		acked, err := confirm.Wait(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			outcomes[i] = publisher.Failed(classify(err).Kind.String(), err.Error())
			continue
		}
		if !acked {
			outcomes[i] = publisher.Failed(NackCode, "broker refused message")
			continue
		}
		outcomes[i] = publisher.Delivered(t.exchange, strconv.FormatUint(confirm.Tag(), 10))
	}

	t.logger.Debug("records published",
		"exchange", t.exchange,
		"records", len(records),
	)

	return outcomes, nil
}

// Close closes the channel and, when the transport dialed it, the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channel != nil {
		if err := t.channel.Close(); err != nil {
			t.logger.Warn("error closing channel", "error", err)
		}
	}

	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			return err
		}
	}

	t.logger.Info("RabbitMQ transport closed")
	return nil
}

func classify(err error) *publisher.TransportError {
	if errors.Is(err, amqp.ErrClosed) {
		return publisher.NewTransportError(publisher.KindConnectionTimeout, err)
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.AccessRefused:
			return publisher.NewTransportError(publisher.KindUnauthorized, err)
		case amqp.ResourceError:
			return publisher.NewTransportError(publisher.KindThrottled, err)
		case amqp.ConnectionForced, amqp.ChannelError:
			return publisher.NewTransportError(publisher.KindConnectionTimeout, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return publisher.NewTransportError(publisher.KindConnectionTimeout, err)
	}

	return publisher.NewTransportError(publisher.KindOther, err)
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return nil, err
	}
	return deferredConfirmation{dc: dc}, nil
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}

type deferredConfirmation struct {
	dc *amqp.DeferredConfirmation
}

func (d deferredConfirmation) Tag() uint64 {
	if d.dc == nil {
		return 0
	}
	return d.dc.DeliveryTag
}

// Wait treats a missing confirmation (channel not in confirm mode) as an ack.
func (d deferredConfirmation) Wait(ctx context.Context) (bool, error) {
	if d.dc == nil {
		return true, nil
	}
	return d.dc.WaitContext(ctx)
}
