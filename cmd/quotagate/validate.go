package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/quotagate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the quotagate configuration file.

Checks:
  - YAML syntax is valid
  - Tiers, features, plans and subscriptions are consistent
  - The sweep schedule parses
  - The counter store is reachable (optional)

Examples:
  quotagate validate
  quotagate validate --config /etc/quotagate/config.yaml --check-store`,
	RunE: runValidate,
}

var validateCheckStore bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckStore, "check-store", false, "open the configured stores")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config valid\n", checkMark)

	// Show config summary
	tiers, _ := cfg.TierTable()
	names := make([]string, 0, len(tiers))
	for name := range tiers {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("  %s Store: %s (timeout %s)\n", checkMark, cfg.Store.Driver, cfg.Store.Timeout)
	fmt.Printf("  %s Catalog: %s\n", checkMark, cfg.Catalog.Source)
	fmt.Printf("  %s Rate limit tiers: %s (default %s)\n", checkMark, strings.Join(names, ", "), cfg.RateLimit.DefaultTier)
	fmt.Printf("  %s Features: %d, plans: %d, subscriptions: %d\n", checkMark, len(cfg.Features), len(cfg.Plans), len(cfg.Subscriptions))
	fmt.Printf("  %s Sweep schedule: %s\n", checkMark, cfg.Maintenance.SweepSchedule)

	// Optional: open stores
	if validateCheckStore {
		app, err := openApp()
		if err != nil {
			fmt.Printf("  %s Stores reachable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			app.Shutdown()
			fmt.Printf("  %s Stores reachable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
