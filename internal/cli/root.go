// Package cli is the command line entry point into the Gofer service
// process. Pipeline and run management are a separate client concern and
// are not implemented here; this package only knows how to boot the engine.
package cli

import "github.com/spf13/cobra"

// rootCmd is the base of the cli.
var rootCmd = &cobra.Command{
	Use:   "gofer",
	Short: "Gofer runs containerized pipelines as directed acyclic graphs of tasks.",
	Long: `Gofer runs containerized pipelines as directed acyclic graphs of tasks.

It dispatches each task to a scheduler backend as a short-lived container,
tracks task executions through to a terminal status, and resolves
downstream tasks against their predecessors' outcomes.`,
}

func init() {
	rootCmd.AddCommand(cmdService)
	rootCmd.PersistentFlags().String("config", "", "configuration file path")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}
