package cobra

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/human"
	"github.com/vouchcli/vouch/internal/ids"
	"github.com/vouchcli/vouch/internal/tty"
)

func newPromptCmd() *cobra.Command {
	var identity string
	var timeoutStr string

	cmd := &cobra.Command{
		Use:   "prompt <item>",
		Short: "Ask the operator to vouch for an item right now",
		Long: `Ask the operator whether the item's behavior held just now.

Answers: y records a confirmation, n opens an issue with a diagnostics
snapshot, s skips for this session, S never asks about this item again.
An unanswered prompt times out and records nothing. Requires an
interactive terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			timeout := a.Cfg.PromptTimeout
			if timeoutStr != "" {
				timeout, err = time.ParseDuration(timeoutStr)
				if err != nil || timeout <= 0 {
					_ = cmd.Help()
					return errors.New(errors.EUsage, fmt.Sprintf("invalid timeout: %s", timeoutStr))
				}
			}

			statusOf, err := a.issueStatus()
			if err != nil {
				return err
			}
			if identity == "" {
				identity = a.Cfg.Identity
			}

			runID := ids.NewRunID()
			a.emitRestored(runID)
			a.Tracker.RunID = runID
			p := &human.Prompter{
				Verifier: &human.Verifier{
					Store:       a.Store,
					Log:         a.Log,
					Now:         time.Now,
					RunID:       runID,
					IssueStatus: statusOf,
				},
				Tracker:     a.Tracker,
				In:          os.Stdin,
				Out:         cmd.ErrOrStderr(),
				Interactive: tty.IsInteractive,
			}

			ctx, cancel := signalContext()
			defer cancel()

			outcome, err := p.Prompt(ctx, args[0], identity, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, string(outcome))
			return a.restoredErr()
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "who is vouching (default from vouch.yaml or $USER)")
	cmd.Flags().StringVar(&timeoutStr, "timeout", "", "answer timeout (Go duration, e.g. '30s'); defaults to vouch.yaml")

	return cmd
}
