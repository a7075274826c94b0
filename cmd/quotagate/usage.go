package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/quotagate/domain/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "View tenant usage",
	Long: `View and repair tenant feature usage.

Examples:
  quotagate usage show acme reports
  quotagate usage records acme --limit=20
  quotagate usage history acme
  quotagate usage reconcile acme reports`,
}

var usageShowCmd = &cobra.Command{
	Use:   "show <tenant> <feature>",
	Short: "Show usage of a feature in the current period",
	Args:  cobra.ExactArgs(2),
	RunE:  runUsageShow,
}

var usageRecordsCmd = &cobra.Command{
	Use:   "records <tenant>",
	Short: "Show recent usage records",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsageRecords,
}

var usageHistoryCmd = &cobra.Command{
	Use:   "history <tenant>",
	Short: "Show recorded usage per feature and period",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsageHistory,
}

var usageReconcileCmd = &cobra.Command{
	Use:   "reconcile <tenant> <feature>",
	Short: "Rebuild the current period's counter from usage records",
	Args:  cobra.ExactArgs(2),
	RunE:  runUsageReconcile,
}

var (
	usageLimit       int
	usageHistoryScan int
)

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageRecordsCmd)
	usageCmd.AddCommand(usageHistoryCmd)
	usageCmd.AddCommand(usageReconcileCmd)

	usageCmd.PersistentFlags().BoolVar(&checkJSON, "json", false, "print results as JSON")
	usageRecordsCmd.Flags().IntVar(&usageLimit, "limit", 20, "number of records to show")
	usageHistoryCmd.Flags().IntVar(&usageHistoryScan, "scan", 10000, "number of recent records to aggregate")
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	s, err := app.Gate.Usage(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to get usage: %w", err)
	}

	if checkJSON {
		return printJSON(s)
	}

	fmt.Printf("Usage of %s for %s\n", s.Feature, s.TenantID)
	fmt.Printf("Plan:      %s (%s)\n", s.PlanID, s.Status)
	fmt.Printf("Period:    %s\n", s.Period)
	fmt.Printf("Current:   %d\n", s.Current)
	if s.Limit < 0 {
		fmt.Printf("Limit:     unlimited\n")
	} else {
		fmt.Printf("Limit:     %d\n", s.Limit)
		fmt.Printf("Remaining: %d\n", s.Remaining)
		fmt.Printf("Used:      %.1f%% (%s)\n", s.PercentUsed, s.Warning)
	}
	if !s.ResetAt.IsZero() {
		fmt.Printf("Resets:    %s\n", s.ResetAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runUsageRecords(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	records, err := app.Tracker.Records(context.Background(), args[0], usageLimit)
	if err != nil {
		return fmt.Errorf("failed to get usage records: %w", err)
	}

	if checkJSON {
		return printJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No usage records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tFEATURE\tPERIOD\tAMOUNT\tID")
	fmt.Fprintln(w, "--------\t-------\t------\t------\t--")

	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%d\t%s\n",
			r.RecordedAt.Format("2006-01-02 15:04:05"),
			r.FeatureSlug,
			r.PeriodKind,
			r.PeriodDate,
			r.Amount,
			r.ID,
		)
	}

	return w.Flush()
}

func runUsageHistory(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	records, err := app.Tracker.Records(context.Background(), args[0], usageHistoryScan)
	if err != nil {
		return fmt.Errorf("failed to get usage records: %w", err)
	}

	summaries := usage.Summarize(records)
	if checkJSON {
		return printJSON(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No usage history found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FEATURE\tPERIOD\tTOTAL\tRECORDS")
	fmt.Fprintln(w, "-------\t------\t-----\t-------")

	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s %s\t%d\t%d\n", s.FeatureSlug, s.PeriodKind, s.PeriodDate, s.Total, s.Records)
	}

	return w.Flush()
}

func runUsageReconcile(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	ctx := context.Background()
	tenant, feature := args[0], args[1]

	s, err := app.Gate.Usage(ctx, tenant, feature)
	if err != nil {
		return fmt.Errorf("failed to get usage: %w", err)
	}

	total, err := app.Tracker.Reconcile(ctx, tenant, feature, s.Period)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s/%s counter restored: %d -> %d\n", checkMark, tenant, feature, s.Current, total)
	return nil
}
