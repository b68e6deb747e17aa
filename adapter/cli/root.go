package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/streamrelay/pkg/observability"
)

var (
	verbose bool
	logger  *slog.Logger
)

type commandContext struct {
	startedAt time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "streamrelay - reliable batch publishing to data streams",
	Long: `streamrelay publishes batches of records to a data stream and retries
the records the stream rejects, with bounded attempts and exponential backoff.

Transports: Amazon Kinesis, RabbitMQ and an in-memory stream that simulates
per-shard throughput limits.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		ctx, _ := observability.EnsureRunID(cmd.Context())
		ctx = contextWithValue(ctx, commandContext{startedAt: time.Now()})
		cmd.SetContext(ctx)
		logger.InfoContext(ctx, "command start", "command", cmd.CommandPath())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		ctx := cmd.Context()
		info, ok := ctx.Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.InfoContext(ctx, "command end",
			"command", cmd.CommandPath(),
			"duration_ms", time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// ExecuteContext runs the root command with ctx. Errors are printed to
// stderr before they are returned.
func ExecuteContext(ctx context.Context) error {
	rootCmd.SilenceErrors = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every delivered record")
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}
