package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/saferollout/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage rolloutctl configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.InitConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		path, err := cli.GetConfigPath()
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("config written to %s\n", path)
		}
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("default context: %s\n", cfg.DefaultContext)
		for name, ctx := range cfg.Contexts {
			fmt.Printf("  %s: %s\n", name, ctx.BaseURL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configViewCmd)
}
