package cobra

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/stats"
)

func newBadgesCmd() *cobra.Command {
	var extended bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "badges",
		Short: "Export coverage badges",
		Long: `Export coverage badges derived from the registry.

The basic set covers machine and human verification; --extended adds
per-class human coverage and the fully-verified breakdown.`,
		Args: cobra.NoArgs,
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
			st, err := stats.Recompute(reg)
			if err != nil {
				return err
			}
			badges := stats.ExportBadges(st, extended)

			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(badges); err != nil {
					return errors.Wrap(errors.EInternal, "encoding badges", err)
				}
				return a.restoredErr()
			}
			for _, b := range badges {
				fmt.Fprintf(stdout, "%-35s %-18s %s\n", b.Label, b.Value, b.Color)
			}
			return a.restoredErr()
		},
	}

	cmd.Flags().BoolVar(&extended, "extended", false, "include per-class and combined-status badges")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit badges as JSON")

	return cmd
}
