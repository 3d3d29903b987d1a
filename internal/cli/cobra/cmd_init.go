package cobra

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/scaffold"
	"github.com/vouchcli/vouch/internal/store"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create vouch.yaml and an empty registry",
		Long: `Create a starter vouch.yaml, scenarios.yaml and triggers.yaml in the
current directory, plus an empty registry under the data directory.
Existing files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			cwd, err := os.Getwd()
			if err != nil {
				return errors.Wrap(errors.EInternal, "failed to get working directory", err)
			}
			fsys := fs.NewRealFS()

			created, err := scaffold.WriteStarterConfig(fsys, cwd)
			if err != nil {
				return err
			}
			for _, path := range created {
				fmt.Fprintf(stdout, "created %s\n", path)
			}

			dataDir := filepath.Join(cwd, ".vouch")
			st := store.NewStore(fsys, dataDir, time.Now)
			if _, statErr := fsys.Stat(st.RegistryPath()); statErr == nil {
				fmt.Fprintf(stdout, "registry already exists at %s\n", st.RegistryPath())
				return nil
			}
			if err := st.InitRegistry(); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "created %s\n", st.RegistryPath())
			return nil
		},
	}
}
