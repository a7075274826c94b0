package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/quotagate/bootstrap"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quotagate",
	Short: "Usage metering, feature gating and rate limiting for multi-tenant services",
	Long: `quotagate decides whether a tenant may use a feature or make a request.

It counts feature usage per reset period against plan limits, warns when
tenants approach their limits, and throttles callers across minute, hour
and day windows.

Quick start:
  quotagate serve      # Start the decision API
  quotagate validate   # Validate configuration

Operations:
  quotagate check      # Evaluate a decision from the command line
  quotagate usage      # Inspect tenant usage
  quotagate plans      # Manage sqlite catalog subscriptions
  quotagate sweep      # Remove expired counters`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "quotagate.yaml", "config file path")
}

// openApp builds the application for one-shot commands. Logs below warn
// are dropped so command output stays readable.
func openApp() (*bootstrap.App, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()

	a, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile, Logger: &logger})
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, nil
}
