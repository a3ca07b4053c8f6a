package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/plugkit/bootstrap"
	"github.com/artpar/plugkit/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the component runtime and introspection server",
	Long: `Start the plugkit runtime.

The runtime will:
  - Load configuration from plugkit.yaml (or --config)
  - Or load configuration from PLUGKIT_* environment variables
  - Open the bundle store database
  - Load bundle archives from the bundle directory
  - Watch the bundle directory for new or removed archives
  - Serve the introspection API and metrics endpoint

Environment variables:
  PLUGKIT_SERVER_HOST    - Bind host (default: 127.0.0.1)
  PLUGKIT_SERVER_PORT    - Bind port (default: 8080)
  PLUGKIT_BUNDLES_DIR    - Bundle directory (default: bundles)
  PLUGKIT_DATABASE_DSN   - Database path (default: plugkit.db)
  PLUGKIT_LOG_LEVEL      - Log level: debug, info, warn, error
  PLUGKIT_LOG_FORMAT     - Log format: json or console

Examples:
  plugkit serve
  plugkit serve --config /etc/plugkit/config.yaml
  plugkit serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var app *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with a config file
		app, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}

		if !hasConfigFile {
			fmt.Println("Running with defaults and environment variables (no config file)")
		}

		app, err = bootstrap.New(cfg)
	}

	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
