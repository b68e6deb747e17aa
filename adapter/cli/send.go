package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
	"github.com/felixgeelhaar/streamrelay/internal/receipts"
)

// ErrUndelivered is returned by commands when records were not delivered.
var ErrUndelivered = errors.New("some records were not delivered")

var (
	sendPayload  string
	sendSeparate bool
)

var sendCmd = &cobra.Command{
	Use:   "send <partition-key>...",
	Short: "Publish one record per partition key",
	Long: `Publish one record per partition key as a single batch. Records the
stream rejects are retried with exponential backoff.

With --separate every record is published as its own batch, concurrently.

Examples:
  relay send user-1 user-2 user-3
  relay send --payload '{"hello":"stream"}' user-1
  relay send --separate user-1 user-2`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetContainer()
		if c == nil {
			return errNoContainer
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		id := runID(ctx)

		now := time.Now()
		records, err := buildRecords(args, sendPayload, now)
		if err != nil {
			return err
		}

		var batches [][]publisher.Record
		if sendSeparate {
			for _, r := range records {
				batches = append(batches, []publisher.Record{r})
			}
		} else {
			batches = [][]publisher.Record{records}
		}

		results := publisher.PublishAll(ctx, c.Publisher, batches, c.PublishConfig(now), c.Config.FanOutLimit)
		var undelivered error
		for _, r := range results {
			if r.Err != nil {
				undelivered = ErrUndelivered
			}
		}

		fmt.Fprintf(out, "run %s\n", id)
		var stored []receipts.Receipt
		for i, r := range results {
			label := "batch"
			if sendSeparate {
				label = fmt.Sprintf("record %s", records[i].PartitionKey)
			}
			printResult(out, label, r.Result, r.Err, verbose)
			stored = append(stored, offsetReceipts(receipts.FromResult(r.Result), indexOffset(sendSeparate, i))...)
		}

		if saveErr := c.Receipts.Save(ctx, id, stored); saveErr != nil {
			c.Logger.WarnContext(ctx, "failed to store receipts", "run_id", id, "error", saveErr)
		}
		return undelivered
	},
}

// indexOffset maps a record's index inside batch i back to the command's
// argument order.
func indexOffset(separate bool, batch int) int {
	if separate {
		return batch
	}
	return 0
}

func offsetReceipts(rs []receipts.Receipt, offset int) []receipts.Receipt {
	for i := range rs {
		rs[i].Index += offset
	}
	return rs
}

func init() {
	sendCmd.Flags().StringVar(&sendPayload, "payload", "", "record body; defaults to a JSON demo body per key")
	sendCmd.Flags().BoolVar(&sendSeparate, "separate", false, "publish every record as its own batch")
	rootCmd.AddCommand(sendCmd)
}
