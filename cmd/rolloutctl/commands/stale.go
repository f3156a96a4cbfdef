package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/saferollout/internal/cli"
)

var (
	staleIDs    []string
	staleLimit  int
	staleOffset int
)

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Report stale feature flags",
	Long: `Report which feature flags are stale (safe to delete), oldest first.

Examples:
  rolloutctl stale
  rolloutctl stale --ids checkout,new-nav --format yaml
  rolloutctl stale --limit 10 --offset 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		report, err := c.StaleReport(context.Background(), staleIDs, staleLimit, staleOffset)
		if err != nil {
			return fmt.Errorf("failed to fetch stale report: %w", err)
		}

		if !quiet {
			if len(report.Features) == 0 {
				fmt.Println("No features found")
				return nil
			}
			return cli.PrintStaleReport(report, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(staleCmd)

	staleCmd.Flags().StringSliceVar(&staleIDs, "ids", nil, "Restrict the report to these feature ids")
	staleCmd.Flags().IntVar(&staleLimit, "limit", 0, "Page size (server default when 0)")
	staleCmd.Flags().IntVar(&staleOffset, "offset", 0, "Page offset")
}
