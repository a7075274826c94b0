package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired counters and old usage records",
	Long: `Run one maintenance sweep against the configured stores.

Counters whose window has ended are deleted. Usage records older than
maintenance.record_retention are pruned when a retention is set.
The redis driver expires keys natively and has nothing to sweep.

Examples:
  quotagate sweep
  quotagate sweep --config /etc/quotagate/config.yaml`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := app.Sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("%s Removed %d expired counters\n", checkMark, res.Counters)
	fmt.Printf("%s Pruned %d usage records\n", checkMark, res.Records)
	return nil
}
