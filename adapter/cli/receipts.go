package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/streamrelay/internal/receipts"
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts <run-id>",
	Short: "Show where the records of a run landed",
	Long: `Print the shard and sequence number of every record delivered by a
send or flood run. Receipts are kept in Redis when REDIS_URL is set, otherwise
only for the lifetime of the process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetContainer()
		if c == nil {
			return errNoContainer
		}
		out := cmd.OutOrStdout()

		list, err := c.Receipts.Get(cmd.Context(), args[0])
		if errors.Is(err, receipts.ErrRunNotFound) {
			fmt.Fprintf(out, "No receipts for run %s.\n", args[0])
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load receipts: %w", err)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tPARTITION KEY\tSHARD\tSEQUENCE\tATTEMPT")
		for _, r := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", r.Index, r.PartitionKey, r.ShardID, r.SequenceNumber, r.Attempt)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(receiptsCmd)
}
