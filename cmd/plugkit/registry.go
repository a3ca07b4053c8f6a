package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var registryAddr string

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Query the registry of a running runtime",
	Long: `Query a running plugkit runtime over its introspection API.

Examples:
  plugkit registry namespaces
  plugkit registry interfaces global
  plugkit registry components payments --addr http://127.0.0.1:8080`,
}

var registryNamespacesCmd = &cobra.Command{
	Use:   "namespaces",
	Short: "List registry namespaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printAPI("/api/namespaces")
	},
}

var registryInterfacesCmd = &cobra.Command{
	Use:   "interfaces <namespace>",
	Short: "List interfaces declared in a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printAPI("/api/namespaces/" + args[0] + "/interfaces")
	},
}

var registryComponentsCmd = &cobra.Command{
	Use:   "components <namespace>",
	Short: "List components registered in a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printAPI("/api/namespaces/" + args[0] + "/components")
	},
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryNamespacesCmd)
	registryCmd.AddCommand(registryInterfacesCmd)
	registryCmd.AddCommand(registryComponentsCmd)

	registryCmd.PersistentFlags().StringVar(&registryAddr, "addr", "http://127.0.0.1:8080", "runtime address")
}

func printAPI(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(registryAddr + path)
	if err != nil {
		return fmt.Errorf("is the runtime running? %w", err)
	}
	defer resp.Body.Close()

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime returned %s: %v", resp.Status, body)
	}

	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
