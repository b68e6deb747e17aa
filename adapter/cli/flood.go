package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/streamrelay/internal/publisher"
	"github.com/felixgeelhaar/streamrelay/internal/receipts"
)

var (
	floodBatches int
	floodPayload string
)

var floodCmd = &cobra.Command{
	Use:   "flood <partition-key>...",
	Short: "Publish many copies of a batch concurrently",
	Long: `Publish --batches copies of the same batch at once, bounded by
FAN_OUT_LIMIT concurrent publishes. This exceeds the per-shard write limit of a
small stream on purpose, so the partial-failure retry path can be observed.

Examples:
  relay flood --batches 20 user-1 user-2 user-3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetContainer()
		if c == nil {
			return errNoContainer
		}
		if floodBatches < 1 {
			return fmt.Errorf("--batches must be at least 1, got %d", floodBatches)
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		id := runID(ctx)

		now := time.Now()
		records, err := buildRecords(args, floodPayload, now)
		if err != nil {
			return err
		}
		batches := make([][]publisher.Record, floodBatches)
		for i := range batches {
			batches[i] = records
		}

		results := publisher.PublishAll(ctx, c.Publisher, batches, c.PublishConfig(now), c.Config.FanOutLimit)

		fmt.Fprintf(out, "run %s\n", id)
		var (
			stored                       []receipts.Receipt
			delivered, total, incomplete int
		)
		for i, r := range results {
			printResult(out, fmt.Sprintf("batch %d", i+1), r.Result, r.Err, verbose)
			if r.Result != nil {
				delivered += len(r.Result.Delivered)
			}
			total += len(records)
			if r.Err != nil {
				incomplete++
			}
			stored = append(stored, offsetReceipts(receipts.FromResult(r.Result), i*len(records))...)
		}
		fmt.Fprintf(out, "delivered %d/%d records, %d incomplete batch(es)\n", delivered, total, incomplete)

		if saveErr := c.Receipts.Save(ctx, id, stored); saveErr != nil {
			c.Logger.WarnContext(ctx, "failed to store receipts", "run_id", id, "error", saveErr)
		}
		if incomplete > 0 {
			return ErrUndelivered
		}
		return nil
	},
}

func init() {
	floodCmd.Flags().IntVar(&floodBatches, "batches", 10, "number of copies of the batch")
	floodCmd.Flags().StringVar(&floodPayload, "payload", "", "record body; defaults to a JSON demo body per key")
	rootCmd.AddCommand(floodCmd)
}
