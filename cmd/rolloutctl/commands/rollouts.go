package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/saferollout/internal/cli"
	"github.com/TimurManjosov/saferollout/internal/client"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

var listRunningOnly bool

var rolloutsCmd = &cobra.Command{
	Use:   "rollouts",
	Short: "Inspect and drive safe rollouts",
}

var rolloutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List safe rollouts",
	Long: `List all safe rollouts known to the controller.

Examples:
  rolloutctl rollouts list
  rolloutctl rollouts list --running-only --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		rollouts, err := c.ListRollouts(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list rollouts: %w", err)
		}

		if listRunningOnly {
			var running []rollout.SafeRollout
			for _, r := range rollouts {
				if r.Status == rollout.StatusRunning {
					running = append(running, r)
				}
			}
			rollouts = running
		}

		if !quiet {
			if len(rollouts) == 0 {
				fmt.Println("No rollouts found")
				return nil
			}
			return cli.PrintRollouts(rollouts, cli.OutputFormat(format))
		}
		return nil
	},
}

var rolloutsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one safe rollout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		r, err := c.GetRollout(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get rollout: %w", err)
		}

		if !quiet {
			return cli.PrintRollout(r, cli.OutputFormat(format))
		}
		return nil
	},
}

var rolloutsTickCmd = &cobra.Command{
	Use:   "tick <id>",
	Short: "Trigger a manual controller tick for one rollout",
	Long: `Run the advance/decide/notify sequence for a single rollout now,
without waiting for the next poll interval. Requires the admin API key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		status, err := c.TickRollout(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("tick failed: %w", err)
		}

		if !quiet {
			fmt.Printf("rollout %s ticked, status: %s\n", args[0], status)
		}
		return nil
	},
}

func newClient() (*client.Client, error) {
	ctxCfg, err := cli.GetContextConfig(contextName, baseURL, apiKey)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return client.NewClient(ctxCfg.BaseURL, ctxCfg.APIKey), nil
}

func init() {
	rootCmd.AddCommand(rolloutsCmd)
	rolloutsCmd.AddCommand(rolloutsListCmd)
	rolloutsCmd.AddCommand(rolloutsGetCmd)
	rolloutsCmd.AddCommand(rolloutsTickCmd)

	rolloutsListCmd.Flags().BoolVar(&listRunningOnly, "running-only", false, "Show only running rollouts")
}
