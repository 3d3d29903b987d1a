package cobra

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print vouch version",
		Long:  "Print the vouch version string.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "vouch %s\n", version.FullVersion())
		},
	}

	return cmd
}
