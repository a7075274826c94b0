package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/quotagate/domain/quota"
	"github.com/artpar/quotagate/domain/ratelimit"
	"github.com/artpar/quotagate/domain/window"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate decisions from the command line",
	Long: `Evaluate rate limit and feature decisions against the configured store.

Checks against the memory store only see this process, so use the
sqlite or redis driver to inspect a running deployment.

Examples:
  quotagate check ratelimit tenant:acme --tier=basic
  quotagate check feature acme reports --amount=5
  quotagate check feature acme reports --dry-run --json`,
}

var checkRateLimitCmd = &cobra.Command{
	Use:   "ratelimit <identifier>",
	Short: "Consume one request for an identifier",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckRateLimit,
}

var checkFeatureCmd = &cobra.Command{
	Use:   "feature <tenant> <feature>",
	Short: "Check, and unless --dry-run track, feature usage",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckFeature,
}

var (
	checkTier   string
	checkStatus bool
	checkAmount int64
	checkDryRun bool
	checkJSON   bool
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.AddCommand(checkRateLimitCmd)
	checkCmd.AddCommand(checkFeatureCmd)

	checkCmd.PersistentFlags().BoolVar(&checkJSON, "json", false, "print the decision as JSON")

	checkRateLimitCmd.Flags().StringVar(&checkTier, "tier", "", "rate limit tier (default: rate_limit.default_tier)")
	checkRateLimitCmd.Flags().BoolVar(&checkStatus, "status", false, "report window state without consuming a request")

	checkFeatureCmd.Flags().Int64Var(&checkAmount, "amount", 1, "units to consume")
	checkFeatureCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "evaluate without tracking")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCheckRateLimit(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	tier := checkTier
	if tier == "" {
		tier = app.Config().RateLimit.DefaultTier
	}

	ctx := context.Background()
	var d ratelimit.Decision
	if checkStatus {
		d, err = app.Limiter.Status(ctx, args[0], tier)
	} else {
		d, err = app.Limiter.Check(ctx, args[0], tier)
	}
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}

	if checkJSON {
		return printJSON(d)
	}

	if d.Allowed {
		fmt.Printf("%s %s allowed (tier %s)\n", checkMark, d.Identifier, d.Tier)
	} else {
		fmt.Printf("%s %s denied by the %s window, retry in %ds\n", crossMark, d.Identifier, d.ExceededWindow, d.RetryAfter)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WINDOW\tCURRENT\tLIMIT\tREMAINING\tRESETS")
	fmt.Fprintln(w, "------\t-------\t-----\t---------\t------")
	for _, k := range []window.Kind{window.Minute, window.Hour, window.Day} {
		s, ok := d.Limits[k]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", k, s.Current, s.Limit, s.Remaining, s.ResetAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runCheckFeature(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	tenant, feature := args[0], args[1]
	ctx := context.Background()

	var d quota.Decision
	if checkDryRun {
		d, err = app.Gate.Check(ctx, tenant, feature, checkAmount)
	} else {
		d, err = app.Gate.CheckAndTrack(ctx, tenant, feature, checkAmount)
	}
	if err != nil {
		return fmt.Errorf("feature check failed: %w", err)
	}

	if checkJSON {
		return printJSON(d)
	}

	if !d.Allowed {
		fmt.Printf("%s %s may not use %s: %s\n", crossMark, tenant, feature, d.Reason)
		if d.Reason != quota.ReasonLimitExceeded {
			return nil
		}
	} else {
		fmt.Printf("%s %s may use %s\n", checkMark, tenant, feature)
	}

	limit := "unlimited"
	if !d.Unlimited() {
		limit = fmt.Sprintf("%d", d.Limit)
	}
	fmt.Printf("  Plan:    %s\n", d.PlanID)
	fmt.Printf("  Usage:   %d -> %d of %s (%.1f%%)\n", d.CurrentUsage, d.NewUsage, limit, d.PercentUsed)
	if d.Warning {
		fmt.Printf("  Warning: %s\n", d.WarningLevel)
	}
	if !d.ResetAt.IsZero() {
		fmt.Printf("  Resets:  %s\n", d.ResetAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
