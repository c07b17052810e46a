// Command agency runs infant limb-agency experiments.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/agency/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
