package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gofer-hq/gofer/internal/config"
)

var cmdServicePrintEnv = &cobra.Command{
	Use:   "printenv",
	Short: "Print the list of environment variables the service looks for on startup.",
	Long: `Print the list of environment variables the service looks for on startup.

All configuration set by environment variable overrides default and config
file read configuration.`,
	RunE: servicePrintEnv,
}

func servicePrintEnv(_ *cobra.Command, _ []string) error {
	for _, name := range config.EnvVarNames() {
		fmt.Println(name)
	}
	return nil
}
