package cobra

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/human"
	"github.com/vouchcli/vouch/internal/ids"
)

func newLogCmd() *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "log <item>",
		Short: "Record a manual human confirmation",
		Long: `Record that a human has confirmed an item's behavior.

For automatable items this alone does not make the item fully verified;
machine evidence is still owed. Refused while the item has open issues.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

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
			if err := v.LogManual(args[0], identity); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s vouched for %s\n", identity, args[0])
			return a.restoredErr()
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "who is vouching (default from vouch.yaml or $USER)")

	return cmd
}
