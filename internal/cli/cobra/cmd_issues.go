package cobra

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/ids"
	"github.com/vouchcli/vouch/internal/issues"
)

func newIssuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Track issues blocking item verification",
	}
	cmd.AddCommand(
		newIssuesListCmd(),
		newIssuesShowCmd(),
		newIssuesSubmitCmd(),
		newIssuesResolveCmd(),
	)
	return cmd
}

func newIssuesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.Tracker.List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(stdout, "no issues")
				return a.restoredErr()
			}
			for _, issue := range list {
				fmt.Fprintf(stdout, "%s  %-13s  %-30s  %s\n",
					issue.ID, issue.Status, issue.ItemID, issue.Description)
			}
			return a.restoredErr()
		},
	}
}

func newIssuesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one issue in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			issue, err := a.Tracker.Get(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(stdout, "issue:    %s\n", issue.ID)
			fmt.Fprintf(stdout, "status:   %s\n", issue.Status)
			fmt.Fprintf(stdout, "item:     %s\n", issue.ItemID)
			fmt.Fprintf(stdout, "reporter: %s\n", issue.Reporter)
			fmt.Fprintf(stdout, "created:  %s\n", issue.CreatedAt)
			fmt.Fprintf(stdout, "command:  %s (exit %d)\n", issue.Command, issue.ExitCode)
			fmt.Fprintf(stdout, "\n%s\n", issue.Description)
			if len(issue.History) > 0 {
				fmt.Fprintln(stdout, "\nhistory:")
				for _, h := range issue.History {
					line := fmt.Sprintf("  %s  %s -> %s", h.At, h.From, h.To)
					if h.Note != "" {
						line += "  " + h.Note
					}
					fmt.Fprintln(stdout, line)
				}
			}
			d := issue.Diagnostics
			fmt.Fprintf(stdout, "\ndiagnostics: %s %s/%s\n", d.Hostname, d.OS, d.Arch)
			for _, art := range d.Artifacts {
				if art.Exists {
					fmt.Fprintf(stdout, "  %s (%d bytes)\n", art.Path, art.SizeBytes)
				} else {
					fmt.Fprintf(stdout, "  %s (missing)\n", art.Path)
				}
			}
			return a.restoredErr()
		},
	}
}

func newIssuesSubmitCmd() *cobra.Command {
	var itemID string
	var command string
	var exitCode int
	var description string
	var artifacts []string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Open an issue against a registry item",
		Long: `Open an issue against a registry item.

A diagnostics snapshot (host, tool availability, artifact existence) is
collected automatically. While the issue is open the item cannot be
marked verified through any channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			if itemID == "" || description == "" {
				_ = cmd.Help()
				return errors.New(errors.EUsage, "--item and --description are required")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			a.Tracker.RunID = ids.NewRunID()
			diag := issues.CollectDiagnostics(artifacts)
			issue, err := a.Tracker.Create(command, exitCode, itemID, description, a.Cfg.Identity, diag)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "opened issue %s against %s\n", issue.ID, itemID)
			return a.restoredErr()
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "registry item this issue blocks")
	cmd.Flags().StringVar(&command, "command", "", "command line that exposed the problem")
	cmd.Flags().IntVar(&exitCode, "exit-code", 0, "exit code of the failing command")
	cmd.Flags().StringVar(&description, "description", "", "what went wrong")
	cmd.Flags().StringSliceVar(&artifacts, "artifact", nil, "artifact path to record in diagnostics (repeatable)")

	return cmd
}

func newIssuesResolveCmd() *cobra.Command {
	var statusStr string
	var note string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Transition an issue's status",
		Long: `Transition an issue along the status graph:

  open -> investigating | wontfix | duplicate
  investigating -> fixed
  fixed -> verified | reopened
  reopened -> investigating

Resolving transitions (fixed, verified, wontfix, duplicate) require a
remediation note. Resolving an issue never marks its item verified; it
only stops blocking.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			if statusStr == "" {
				_ = cmd.Help()
				return errors.New(errors.EUsage, "--status is required")
			}
			status, err := issues.ParseStatus(statusStr)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			a.Tracker.RunID = ids.NewRunID()
			issue, err := a.Tracker.Transition(args[0], status, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "issue %s is now %s\n", issue.ID, issue.Status)
			return a.restoredErr()
		},
	}

	cmd.Flags().StringVar(&statusStr, "status", "", "target status")
	cmd.Flags().StringVar(&note, "note", "", "remediation note (required for resolving transitions)")

	return cmd
}
