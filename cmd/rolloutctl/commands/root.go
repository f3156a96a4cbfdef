package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL     string
	apiKey      string
	contextName string
	format      string
	quiet       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rolloutctl",
	Short: "CLI tool for inspecting safe rollouts",
	Long: `Rolloutctl is a command-line tool for the saferollout controller.

It lists and inspects safe rollouts, triggers manual controller ticks,
and reports stale feature flags.

Examples:
  rolloutctl rollouts list
  rolloutctl rollouts get sr-123
  rolloutctl rollouts tick sr-123
  rolloutctl stale --format json`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the saferollout API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for admin operations")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "Named context from ~/.rolloutctl/config.yaml")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}
