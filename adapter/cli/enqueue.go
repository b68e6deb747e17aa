package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/streamrelay/internal/outbox"
)

var enqueuePayload string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <partition-key>...",
	Short: "Write records to the outbox for the worker to relay",
	Long: `Store one message per partition key in the outbox. The worker
publishes them and retries failures across polls until they are delivered or
dead-lettered.

Examples:
  relay enqueue user-1 user-2`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetContainer()
		if c == nil {
			return errNoContainer
		}
		ctx := cmd.Context()

		repo, err := c.OpenOutbox(ctx)
		if err != nil {
			return fmt.Errorf("failed to open outbox: %w", err)
		}

		records, err := buildRecords(args, enqueuePayload, time.Now())
		if err != nil {
			return err
		}
		msgs := make([]*outbox.Message, len(records))
		for i, r := range records {
			msgs[i] = outbox.NewMessage(r.PartitionKey, r.Data)
		}

		if err := repo.SaveBatch(ctx, msgs); err != nil {
			return fmt.Errorf("failed to enqueue messages: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Enqueued %d message(s)\n", len(msgs))
		for _, m := range msgs {
			fmt.Fprintf(out, "  %d %s %s\n", m.ID, m.PartitionKey, m.EventID)
		}
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "message body; defaults to a JSON demo body per key")
	rootCmd.AddCommand(enqueueCmd)
}
