// Package cli is the thin cobra entrypoint that wires config loading to the
// Run Engine. The interactive CLI surface (status/logs/viz daemons the
// teacher builds out) is explicitly out of scope for this executor
// (spec.md §1); this package exists only to exercise the engines.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run the batching task executor against a project's tasks directory",
	Long: `orchestrator drives a batch of coding-agent tasks from a project's tasks
directory through attempt, validation, merge, and integration-doctor
verification, persisting a durable run-state document as it goes.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "orchestrator.yaml", "Path to project config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("orchestrator dev")
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
