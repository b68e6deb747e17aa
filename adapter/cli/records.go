package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
)

// demoPayload is the body sent when no --payload is given.
type demoPayload struct {
	Key     string    `json:"key"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// buildRecords creates one record per partition key. An empty payload
// produces a JSON demo body per key.
func buildRecords(keys []string, payload string, now time.Time) ([]publisher.Record, error) {
	records := make([]publisher.Record, 0, len(keys))
	for _, key := range keys {
		data := []byte(payload)
		if payload == "" {
			var err error
			data, err = json.Marshal(demoPayload{
				Key:     key,
				Message: "delivered by streamrelay",
				SentAt:  now.UTC(),
			})
			if err != nil {
				return nil, err
			}
		}
		records = append(records, publisher.Record{PartitionKey: key, Data: data})
	}
	return records, nil
}

func printResult(out io.Writer, label string, result *publisher.Result, err error, verbose bool) {
	if result == nil {
		fmt.Fprintf(out, "%s: no result: %v\n", label, err)
		return
	}

	fmt.Fprintf(out, "%s: %s after %d attempt(s), %d/%d delivered\n",
		label, result.Status(), result.Attempts, len(result.Delivered), result.Submitted)

	if verbose {
		delivered := append([]publisher.DeliveredRecord(nil), result.Delivered...)
		sort.Slice(delivered, func(i, j int) bool { return delivered[i].Index < delivered[j].Index })
		for _, d := range delivered {
			fmt.Fprintf(out, "  [%d] %s -> %s #%s\n",
				d.Index, d.Record.PartitionKey, d.Delivery.ShardID, d.Delivery.SequenceNumber)
		}
	}
	for _, f := range result.Failed {
		fmt.Fprintf(out, "  failed [%d] %s: %s %s\n", f.Index, f.Record.PartitionKey, f.ErrorCode, f.ErrorMessage)
	}
	if n := len(result.Unsent); n > 0 {
		fmt.Fprintf(out, "  not sent: %d record(s)\n", n)
	}
	if n := len(result.Unknown); n > 0 {
		fmt.Fprintf(out, "  outcome unknown: %d record(s)\n", n)
	}
	if err != nil {
		fmt.Fprintf(out, "  error: %v\n", err)
	}
}
