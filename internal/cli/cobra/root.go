// Package cobra provides the Cobra-based CLI command tree for vouch.
package cobra

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/version"
)

// GlobalOpts holds global options parsed before subcommand dispatch.
type GlobalOpts struct {
	Verbose bool
}

// globalOpts stores the parsed global options for access by subcommands.
var globalOpts GlobalOpts

// GetGlobalOpts returns the parsed global options.
func GetGlobalOpts() GlobalOpts {
	return globalOpts
}

// NewRootCmd creates the root cobra command for vouch.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vouch",
		Short: "Verification registry for command-line behavior",
		Long: `vouch - verification registry for command-line behavior

Vouch tracks, for every observable behavior of every command in a suite,
whether it has been confirmed correct by automated checks, by a human, or
by an integration scenario, and derives trustworthy coverage badges from
that record. The registry is the single source of truth; statistics are
always recomputed from it, never cached.`,
		Version:       version.FullVersion(),
		SilenceErrors: true, // We handle error printing in main.go
		SilenceUsage:  true, // We handle usage printing manually
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVar(&globalOpts.Verbose, "verbose", false, "show detailed error context")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newScenarioCmd(),
		newBadgesCmd(),
		newStatsCmd(),
		newIssuesCmd(),
		newLogCmd(),
		newObserveCmd(),
		newPromptCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the root command with the given output writers.
// This is the main entry point from main.go.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}
