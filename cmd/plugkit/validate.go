package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/plugkit/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Printf("Configuration %s is valid.\n", cfgFile)
		fmt.Printf("  Server:   %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  Bundles:  %s (watch=%v)\n", cfg.Bundles.Dir, cfg.Bundles.Watch)
		fmt.Printf("  Database: %s\n", cfg.Database.DSN)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
