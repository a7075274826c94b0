package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/quotagate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision API server",
	Long: `Start the quotagate HTTP server.

The server will:
  - Load configuration from quotagate.yaml (or --config)
  - Or load configuration from QUOTAGATE_* environment variables
  - Open the configured counter store (memory, sqlite or redis)
  - Serve rate limit and feature decisions under /v1
  - Reload tiers, plans and gate settings when the config file changes or on SIGHUP

Environment variables (for container deployments):
  QUOTAGATE_STORE_DRIVER     - memory, sqlite or redis (default: memory)
  QUOTAGATE_DATABASE_PATH    - SQLite path (default: quotagate.db)
  QUOTAGATE_REDIS_URL        - Redis URL for the redis driver
  QUOTAGATE_SERVER_PORT      - Server port (default: 8080)
  QUOTAGATE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  quotagate serve
  quotagate serve --config /etc/quotagate/config.yaml

  # Containers (env vars only):
  QUOTAGATE_STORE_DRIVER=redis QUOTAGATE_REDIS_URL=redis://redis:6379 quotagate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
