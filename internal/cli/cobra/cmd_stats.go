package cobra

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/registry"
	"github.com/vouchcli/vouch/internal/stats"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Recompute coverage statistics from the registry",
		Long: `Recompute coverage statistics from the registry.

Statistics are always derived fresh from item state; nothing is cached.
A registry where a non-automatable item claims machine verification is
inconsistent and this command fails rather than print a misleading number.`,
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

			fmt.Fprintf(stdout, "features: %d  items: %d\n", st.Features, st.Items)
			fmt.Fprintf(stdout, "machine:  %d/%d (%.0f%%) of automatable items\n",
				st.Machine.Verified, st.Machine.Total, st.Machine.Percent())
			fmt.Fprintf(stdout, "human:    %d/%d (%.0f%%) of all items\n",
				st.Human.Verified, st.Human.Total, st.Human.Percent())
			for _, status := range []registry.Status{
				registry.StatusFullyVerified,
				registry.StatusMachineOnly,
				registry.StatusUntested,
			} {
				if n := st.Combined[status]; n > 0 {
					fmt.Fprintf(stdout, "  %-15s %d\n", status, n)
				}
			}
			return a.restoredErr()
		},
	}
}
