// Command vouch is a verification registry for command-line behavior.
package main

import (
	"os"

	"github.com/vouchcli/vouch/internal/cli/cobra"
	"github.com/vouchcli/vouch/internal/errors"
)

func main() {
	err := cobra.Execute(os.Stdout, os.Stderr)
	if err != nil {
		// Use verbose mode if --verbose global flag was set
		opts := errors.PrintOptions{
			Verbose: cobra.GetGlobalOpts().Verbose,
		}
		errors.PrintWithOptions(os.Stderr, err, opts)
		os.Exit(errors.ExitCode(err))
	}
}
