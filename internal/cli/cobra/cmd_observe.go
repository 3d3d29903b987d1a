package cobra

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/human"
	"github.com/vouchcli/vouch/internal/ids"
)

func newObserveCmd() *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "observe <command-line...>",
		Short: "Auto-log human confirmations from an observed command",
		Long: `Match an observed command line against the trigger table
(triggers.yaml) and record auto-logged confirmations for the items it
implies the operator just exercised.

Recording requires auto_log_consent: true in vouch.yaml; without it the
match is computed but nothing is written. Intended to be wired into a
shell hook.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			reg, err := a.Store.Snapshot()
			if err != nil {
				return err
			}
			tbl, err := human.LoadTriggers(a.FS, a.Cfg.Triggers, reg)
			if err != nil {
				return err
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
			v := &human.Verifier{
				Store:       a.Store,
				Log:         a.Log,
				Now:         time.Now,
				RunID:       runID,
				IssueStatus: statusOf,
			}
			commandLine := strings.Join(args, " ")
			logged, blocked, err := v.AutoLog(tbl, commandLine, identity, a.Cfg.AutoLogConsent)
			if err != nil {
				return err
			}
			for _, id := range logged {
				fmt.Fprintf(stdout, "auto-logged %s\n", id)
			}
			for _, id := range blocked {
				fmt.Fprintf(stdout, "not logged (open issues): %s\n", id)
			}
			if a.Restored {
				return a.restoredErr()
			}
			if len(blocked) > 0 {
				return errors.Silent(errors.ExitFailures)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "who is vouching (default from vouch.yaml or $USER)")

	return cmd
}
