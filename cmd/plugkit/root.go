package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "plugkit",
	Short: "Component framework runtime with dynamic bundle loading",
	Long: `Plugkit is a component architecture runtime.

It maintains a namespaced registry of interfaces and components, resolves
and instantiates components on demand, and loads packaged component
bundles at runtime.

Quick start:
  plugkit serve     # Start the runtime and introspection server

Management:
  plugkit bundle    # Inspect, verify, and list bundles
  plugkit registry  # Query a running runtime
  plugkit validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "plugkit.yaml", "config file path")
}
