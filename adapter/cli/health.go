package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/streamrelay/pkg/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the relay's dependencies",
	Long: `Open the outbox database and run the health checks of every configured
dependency. Exits non-zero when a dependency is unhealthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetContainer()
		if c == nil {
			return errNoContainer
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if _, err := c.OpenOutbox(ctx); err != nil {
			fmt.Fprintf(out, "database: %s (%v)\n", observability.StatusUnhealthy, err)
			return err
		}

		health := c.HealthChecks().Run(ctx)
		for _, name := range health.Names() {
			check := health.Checks[name]
			if check.Message != "" {
				fmt.Fprintf(out, "%s: %s (%s)\n", name, check.Status, check.Message)
			} else {
				fmt.Fprintf(out, "%s: %s\n", name, check.Status)
			}
		}
		fmt.Fprintf(out, "overall: %s\n", health.Status)

		if health.Status == observability.StatusUnhealthy {
			return fmt.Errorf("relay is unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
