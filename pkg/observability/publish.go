package observability

import (
	"errors"
	"log/slog"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// PublishObserver returns a publisher.Observer that logs every attempt and
// records it in metrics, labelled with stream. The last attempt of a Publish
// call (no retry scheduled) also records the call's duration, tagged with
// whether every record was delivered.
func PublishObserver(logger *slog.Logger, metrics Metrics, stream string) publisher.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	streamTag := T("stream", stream)

	return func(r publisher.AttemptReport) {
		metrics.Counter(MetricPublishAttempts, 1, streamTag)
		metrics.Counter(MetricRecordsSubmitted, int64(r.Submitted), streamTag)
		metrics.Counter(MetricRecordsFailed, int64(r.Failed), streamTag)

		if r.Err != nil {
			kind := publisher.KindOther.String()
			var te *publisher.TransportError
			if errors.As(r.Err, &te) {
				kind = te.Kind.String()
			}
			metrics.Counter(MetricTransportErrors, 1, streamTag, T("kind", kind))
		}
		if r.Delay > 0 {
			metrics.Histogram(MetricRetryDelaySeconds, r.Delay.Seconds(), streamTag)
		} else {
			outcome := "delivered"
			if r.Failed > 0 {
				outcome = "undelivered"
			}
			metrics.Timing(MetricPublishDuration, r.Elapsed, streamTag, T("outcome", outcome))
		}

		attrs := []any{
			"stream", stream,
			"attempt", r.Attempt,
			"submitted", r.Submitted,
			"failed", r.Failed,
			"elapsed", r.Elapsed,
		}
		if r.Delay > 0 {
			attrs = append(attrs, "retry_in", r.Delay)
		}
		if r.Err != nil {
			attrs = append(attrs, "error", r.Err)
		}

		switch {
		case r.Failed == 0:
			logger.Info("publish attempt delivered all records", attrs...)
		case r.Delay > 0:
			logger.Warn("publish attempt partially failed", attrs...)
		default:
			logger.Error("publish attempt failed", attrs...)
		}
	}
}
