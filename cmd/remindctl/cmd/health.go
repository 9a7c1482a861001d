package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_remind/internal/health"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the Harbor Remind API",
	Long:  `Check the API's /healthz endpoint, which also pings the backing store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		var status health.Status
		raw, err := doRequest(cmd.Context(), "GET", "/healthz", nil, &status)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(out, "✗ Service is unhealthy (HTTP %d): %s\n", apiErr.Status, apiErr.Message)
			return nil
		}
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		if outputJSON {
			return printJSON(out, raw)
		}
		fmt.Fprintln(out, "✓ Service is healthy")
		if status.Store {
			fmt.Fprintln(out, "  Store: reachable")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
