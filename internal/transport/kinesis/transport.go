// Package kinesis submits record batches to an Amazon Kinesis data stream
// with PutRecords.
package kinesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/smithy-go"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// PutRecords limits.
// See: https://docs.aws.amazon.com/kinesis/latest/APIReference/API_PutRecords.html
const (
	MaxRecordsPerRequest  = 500
	MaxRecordBytes        = 1 << 20
	MaxRequestBytes       = 5 << 20
	MaxPartitionKeyLength = 256
)

// API is the part of the Kinesis client the transport uses.
type API interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// Transport implements publisher.Transport on top of PutRecords.
type Transport struct {
	client     API
	streamName string
	logger     *slog.Logger
}

// New creates a transport writing to streamName.
func New(client API, streamName string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

// SubmitBatch sends records in a single PutRecords request.
func (t *Transport) SubmitBatch(ctx context.Context, records []publisher.Record) ([]publisher.Outcome, error) {
	entries, err := t.entries(records)
	if err != nil {
		return nil, err
	}

	out, err := t.client.PutRecords(ctx, &kinesis.PutRecordsInput{
		StreamName: aws.String(t.streamName),
		Records:    entries,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		t.logger.Debug("put records failed",
			"stream", t.streamName,
			"records", len(records),
			"error", err,
		)
		return nil, classify(err)
	}

	outcomes := make([]publisher.Outcome, 0, len(out.Records))
	for _, r := range out.Records {
		if r.ErrorCode != nil {
			outcomes = append(outcomes, publisher.Failed(aws.ToString(r.ErrorCode), aws.ToString(r.ErrorMessage)))
			continue
		}
		outcomes = append(outcomes, publisher.Delivered(aws.ToString(r.ShardId), aws.ToString(r.SequenceNumber)))
	}

	t.logger.Debug("put records",
		"stream", t.streamName,
		"records", len(records),
		"failed_record_count", aws.ToInt32(out.FailedRecordCount),
	)

	return outcomes, nil
}

func (t *Transport) entries(records []publisher.Record) ([]types.PutRecordsRequestEntry, error) {
	if len(records) > MaxRecordsPerRequest {
		return nil, fmt.Errorf("%d records exceed the PutRecords limit of %d: %w",
			len(records), MaxRecordsPerRequest, publisher.ErrBatchRejected)
	}

	entries := make([]types.PutRecordsRequestEntry, len(records))
	requestBytes := 0
	for i, r := range records {
		if len(r.PartitionKey) == 0 || len(r.PartitionKey) > MaxPartitionKeyLength {
			return nil, fmt.Errorf("record %d: partition key length %d not in [1, %d]: %w",
				i, len(r.PartitionKey), MaxPartitionKeyLength, publisher.ErrBatchRejected)
		}
		// Partition keys count towards the size limits.
		size := len(r.Data) + len(r.PartitionKey)
		if size > MaxRecordBytes {
			return nil, fmt.Errorf("record %d: %d bytes exceed the record limit: %w", i, size, publisher.ErrBatchRejected)
		}
		requestBytes += size

		entries[i] = types.PutRecordsRequestEntry{
			Data:         r.Data,
			PartitionKey: aws.String(r.PartitionKey),
		}
	}
	if requestBytes > MaxRequestBytes {
		return nil, fmt.Errorf("%d bytes exceed the request limit: %w", requestBytes, publisher.ErrBatchRejected)
	}

	return entries, nil
}

func classify(err error) *publisher.TransportError {
	var (
		throughput  *types.ProvisionedThroughputExceededException
		kmsThrottle *types.KMSThrottlingException
		limit       *types.LimitExceededException
	)
	if errors.As(err, &throughput) || errors.As(err, &kmsThrottle) || errors.As(err, &limit) {
		return publisher.NewTransportError(publisher.KindThrottled, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException",
			"InvalidSignatureException", "MissingAuthenticationToken":
			return publisher.NewTransportError(publisher.KindUnauthorized, err)
		case "ThrottlingException", "RequestLimitExceeded":
			return publisher.NewTransportError(publisher.KindThrottled, err)
		}
		return publisher.NewTransportError(publisher.KindOther, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return publisher.NewTransportError(publisher.KindConnectionTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return publisher.NewTransportError(publisher.KindConnectionTimeout, err)
	}

	return publisher.NewTransportError(publisher.KindOther, err)
}
