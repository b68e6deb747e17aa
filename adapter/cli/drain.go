package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/streamrelay/internal/outbox"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Relay one batch of due outbox messages and show outbox stats",
	Long: `Run a single outbox poll in the foreground: publish the due messages,
record per-message failures and print the processor statistics.

Examples:
  relay enqueue user-1 user-2
  relay drain`,
	Args: cobra.NoArgs,
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

		processor := outbox.NewProcessor(repo, c.Publisher, c.ProcessorConfig(), c.Logger)
		runErr := processor.ProcessOnce(ctx)

		printStats(cmd, processor.GetStats())
		return runErr
	},
}

func printStats(cmd *cobra.Command, stats outbox.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Outbox")
	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintf(out, "  published: %d\n", stats.PublishedCount)
	fmt.Fprintf(out, "  failed:    %d\n", stats.FailedCount)
	fmt.Fprintf(out, "  dead:      %d\n", stats.DeadCount)
	if stats.OldestMessageAt != nil {
		fmt.Fprintf(out, "  lag:       %.1fs\n", stats.LagSeconds)
	}
	if stats.LastError != "" {
		fmt.Fprintf(out, "  last error: %s\n", stats.LastError)
	}
}

func init() {
	rootCmd.AddCommand(drainCmd)
}
