package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solagent/txsched/cmd/txsched/commands"
	"github.com/solagent/txsched/logger"
)

var rootCmd = &cobra.Command{
	Use:   "txsched",
	Short: "txsched - scheduled transaction engine",
	Long: `txsched - deferred and recurring execution of trading tools.

txsched persists scheduled transactions and executes them against a
tool registry when they come due: one-shot transactions at a fixed
time, recurring transactions on a cadence, and conditional transactions
when a market condition holds.

Examples:
  txsched daemon                 # Run the scheduler in the foreground
  txsched ls --owner user-1      # List an owner's scheduled transactions
  txsched cancel 42 --owner user-1
  txsched version`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./txsched.toml)")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.CancelCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
