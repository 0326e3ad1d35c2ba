// readyctl is a small operator CLI for the readiness engine HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	org       string
	versionID string
	state     string
	date      string
	asJSON    bool

	rootCmd = &cobra.Command{
		Use:   "readyctl",
		Short: "Inspect launch readiness of insurance products",
		Long: `readyctl talks to a running readiness engine and answers the
two questions product teams keep asking: how ready is this product,
and what exactly is missing before it can go live.`,
	}

	reportCmd = &cobra.Command{
		Use:   "report [product-id]",
		Short: "Print the full readiness report for a product",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}

	blockersCmd = &cobra.Command{
		Use:   "blockers [product-id]",
		Short: "List the human-readable blockers holding a product back",
		Args:  cobra.ExactArgs(1),
		RunE:  runBlockers,
	}

	versionsCmd = &cobra.Command{
		Use:   "versions [product-id]",
		Short: "List the version timeline for a product",
		Args:  cobra.ExactArgs(1),
		RunE:  runVersions,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("READYCTL_SERVER", "http://localhost:8080"), "readiness engine base URL")
	rootCmd.PersistentFlags().StringVar(&org, "org", envOr("READYCTL_ORG", ""), "organization ID")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON instead of formatted output")

	for _, cmd := range []*cobra.Command{reportCmd, blockersCmd} {
		cmd.Flags().StringVar(&versionID, "version", "", "inspect a specific version instead of the default")
		cmd.Flags().StringVar(&state, "state", "", "target jurisdiction (two-letter state code)")
		cmd.Flags().StringVar(&date, "date", "", "target launch date (YYYY-MM-DD)")
	}

	rootCmd.AddCommand(reportCmd, blockersCmd, versionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
