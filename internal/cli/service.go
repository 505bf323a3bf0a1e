package cli

import "github.com/spf13/cobra"

var cmdService = &cobra.Command{
	Use:   "service",
	Short: "Manages service related commands for Gofer.",
	Long: `Manages service related commands for the Gofer service.

These commands help with running and introspecting the Gofer service
process itself.`,
}

func init() {
	cmdService.AddCommand(cmdServiceStart)
	cmdService.AddCommand(cmdServicePrintEnv)
}
