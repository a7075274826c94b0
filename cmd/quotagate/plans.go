package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/quotagate/adapters/sqlite"
	"github.com/artpar/quotagate/config"
	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/ports"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect the catalog and manage subscriptions",
	Long: `Inspect features and manage tenant subscriptions.

Subscriptions can only be changed when catalog.source is sqlite. Running
servers pick up changes once their catalog cache entries expire.

Examples:
  quotagate plans features
  quotagate plans show acme
  quotagate plans subscribe acme pro
  quotagate plans subscribe acme pro --status=trialing
  quotagate plans cancel acme`,
}

var plansFeaturesCmd = &cobra.Command{
	Use:   "features",
	Short: "List catalog features",
	RunE:  runPlansFeatures,
}

var plansShowCmd = &cobra.Command{
	Use:   "show <tenant>",
	Short: "Show a tenant's active plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansShow,
}

var plansSubscribeCmd = &cobra.Command{
	Use:   "subscribe <tenant> <plan-id>",
	Short: "Subscribe a tenant to a plan",
	Args:  cobra.ExactArgs(2),
	RunE:  runPlansSubscribe,
}

var plansCancelCmd = &cobra.Command{
	Use:   "cancel <tenant>",
	Short: "Cancel a tenant's subscription",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansCancel,
}

var subscribeStatus string

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansFeaturesCmd)
	plansCmd.AddCommand(plansShowCmd)
	plansCmd.AddCommand(plansSubscribeCmd)
	plansCmd.AddCommand(plansCancelCmd)

	plansSubscribeCmd.Flags().StringVar(&subscribeStatus, "status", sqlite.SubscriptionActive, "subscription status: active or trialing")
}

// openCatalog opens the sqlite catalog named by the config.
func openCatalog() (*sqlite.CatalogStore, *sqlite.DB, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Catalog.Source != "sqlite" {
		return nil, nil, errors.New("subscriptions are managed in the config file unless catalog.source is sqlite")
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return sqlite.NewCatalogStore(db), db, nil
}

func runPlansFeatures(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	features := cfg.CatalogFeatures()
	if cfg.Catalog.Source == "sqlite" {
		store, db, err := openCatalog()
		if err != nil {
			return err
		}
		defer db.Close()

		features, err = store.ListFeatures(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list features: %w", err)
		}
	}

	if len(features) == 0 {
		fmt.Println("No features found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tNAME\tACTIVE\tDEFAULT LIMIT\tRESETS")
	fmt.Fprintln(w, "----\t----\t------\t-------------\t------")

	for _, f := range features {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", f.Slug, f.Name, f.IsActive, formatLimit(f.DefaultLimit), plan.ResetPeriod(f))
	}

	return w.Flush()
}

func formatLimit(limit *int64) string {
	if limit == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *limit)
}

func runPlansShow(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	p, err := app.Resolver.ActivePlan(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	if p == nil {
		fmt.Printf("%s has no active subscription.\n", args[0])
		return nil
	}
	printPlan(args[0], p)
	return nil
}

func printPlan(tenant string, p *plan.Plan) {
	fmt.Printf("Tenant:          %s\n", tenant)
	fmt.Printf("Plan:            %s (%s)\n", p.ID, p.Name)
	fmt.Printf("Rate limit tier: %s\n", p.RateLimitTier)
	fmt.Printf("Unlimited:       %v\n", p.UnlimitedByDefault)
}

func runPlansSubscribe(cmd *cobra.Command, args []string) error {
	store, db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	if subscribeStatus != sqlite.SubscriptionActive && subscribeStatus != sqlite.SubscriptionTrialing {
		return fmt.Errorf("status must be %q or %q", sqlite.SubscriptionActive, sqlite.SubscriptionTrialing)
	}

	ctx := context.Background()
	tenant, planID := args[0], args[1]

	p, err := store.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	if p == nil {
		return fmt.Errorf("plan %q not found in the catalog", planID)
	}

	if err := store.Subscribe(ctx, tenant, planID, subscribeStatus, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	fmt.Printf("%s %s subscribed (%s)\n", checkMark, tenant, subscribeStatus)
	printPlan(tenant, p)
	return nil
}

func runPlansCancel(cmd *cobra.Command, args []string) error {
	store, db, err := openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Cancel(context.Background(), args[0]); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("%s has no live subscription", args[0])
		}
		return fmt.Errorf("failed to cancel: %w", err)
	}

	fmt.Printf("%s %s subscription cancelled\n", checkMark, args[0])
	return nil
}
