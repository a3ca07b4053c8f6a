package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/plugkit/adapters/sqlite"
	"github.com/artpar/plugkit/config"
	"github.com/artpar/plugkit/core/bundle"
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Inspect, verify, and list component bundles",
}

var bundleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bundles recorded in the bundle store",
	RunE:  runBundleList,
}

var bundleInspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "Print the manifest of a bundle archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundleInspect,
}

var bundleVerifyCmd = &cobra.Command{
	Use:   "verify <archive>",
	Short: "Verify the asset digests of a bundle archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundleVerify,
}

func init() {
	rootCmd.AddCommand(bundleCmd)
	bundleCmd.AddCommand(bundleListCmd)
	bundleCmd.AddCommand(bundleInspectCmd)
	bundleCmd.AddCommand(bundleVerifyCmd)
}

func runBundleList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	records, err := sqlite.NewBundleStore(db).List(context.Background())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No bundles recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tNAMESPACE\tCOMPONENTS\tLOADED AT")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			rec.Name, rec.Version, rec.Namespace, rec.Components,
			rec.LoadedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runBundleInspect(cmd *cobra.Command, args []string) error {
	manifest, err := bundle.Inspect(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Name:        %s\n", manifest.Name)
	fmt.Printf("Version:     %s\n", manifest.Version)
	fmt.Printf("Namespace:   %s\n", manifest.Namespace)
	if manifest.Description != "" {
		fmt.Printf("Description: %s\n", manifest.Description)
	}

	if len(manifest.Interfaces) > 0 {
		fmt.Println("\nInterfaces:")
		for _, iface := range manifest.Interfaces {
			if iface.Version != "" {
				fmt.Printf("  - %s (%s)\n", iface.Name, iface.Version)
			} else {
				fmt.Printf("  - %s\n", iface.Name)
			}
		}
	}
	if len(manifest.Components) > 0 {
		fmt.Println("\nComponents:")
		for _, comp := range manifest.Components {
			scope := comp.Scope
			if scope == "" {
				scope = "multi"
			}
			fmt.Printf("  - %s (kind=%s, scope=%s, implements=%v)\n",
				comp.Name, comp.Kind, scope, comp.Implements)
		}
	}
	if len(manifest.Hooks) > 0 {
		fmt.Printf("\nHooks: %v\n", manifest.Hooks)
	}
	if len(manifest.Assets) > 0 {
		fmt.Printf("\nAssets: %d\n", len(manifest.Assets))
	}
	return nil
}

func runBundleVerify(cmd *cobra.Command, args []string) error {
	if err := bundle.Verify(args[0]); err != nil {
		return err
	}
	fmt.Println("Bundle verified: all digests match.")
	return nil
}
