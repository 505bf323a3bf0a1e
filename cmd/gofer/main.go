// Command gofer boots the Gofer engine service.
package main

import (
	"os"

	"github.com/gofer-hq/gofer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
