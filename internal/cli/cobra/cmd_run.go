package cobra

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/executor"
	"github.com/vouchcli/vouch/internal/ids"
	"github.com/vouchcli/vouch/internal/machine"
	"github.com/vouchcli/vouch/internal/registry"
	"github.com/vouchcli/vouch/internal/report"
)

func newRunCmd() *cobra.Command {
	var depthStr string
	var featureID string
	var itemID string
	var affected bool
	var jobs int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run machine checks and record the results",
		Long: `Run the automated checks recorded in the registry and persist the
machine verification state of every exercised item.

Scope selection:
  (default)    every automatable item in the registry
  --feature    all automatable items of one feature
  --item       exactly one item (must be automatable)
  --affected   only items whose feature source fingerprints are stale

A depth's check list is authoritative: an item with no checks at the
requested depth is reported as a configuration gap and skipped, except
when requested alone with --item, which makes the gap a hard error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			depth, err := registry.ParseDepth(depthStr)
			if err != nil {
				_ = cmd.Help()
				return errors.Wrap(errors.EUsage, "invalid --depth", err)
			}
			if itemID != "" && featureID != "" {
				_ = cmd.Help()
				return errors.New(errors.EUsage, "--item and --feature are mutually exclusive")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			statusOf, err := a.issueStatus()
			if err != nil {
				return err
			}

			if jobs <= 0 {
				jobs = a.Cfg.Jobs
			}
			runID := ids.NewRunID()
			a.emitRestored(runID)
			v := &machine.Verifier{
				Store:       a.Store,
				Exec:        &executor.Executor{Env: executor.Environ(executor.Vars{Target: a.Cfg.Target, DataDir: a.Store.DataDir})},
				FS:          a.FS,
				Log:         a.Log,
				Now:         time.Now,
				Target:      a.Cfg.Target,
				SourceRoot:  a.Cfg.SourceRoot,
				RunID:       runID,
				Jobs:        jobs,
				IssueStatus: statusOf,
			}

			ctx, cancel := signalContext()
			defer cancel()

			var outcomes []machine.Outcome
			switch {
			case itemID != "":
				out, err := v.VerifyItem(ctx, itemID, depth)
				if err != nil {
					return err
				}
				// A config gap on an explicitly requested item is an
				// error, not a skip.
				if out.Status == machine.OutcomeSkipped {
					return out.Err
				}
				outcomes = []machine.Outcome{out}
			case featureID != "":
				outcomes, err = v.VerifyFeature(ctx, featureID, depth)
				if err != nil {
					return err
				}
			default:
				outcomes, err = v.Sweep(ctx, depth, affected)
				if err != nil {
					return err
				}
			}

			summary := report.Summary{RunID: runID, Restored: a.Restored}
			for _, out := range outcomes {
				summary.AddOutcome(out)
			}
			a.foldStats(&summary)
			summary.Render(stdout)
			if err := summary.Emit(a.Store.EventsPath(runID), time.Now()); err != nil {
				a.Log.Warn("run summary event not recorded")
			}
			if code := summary.ExitCode(); code != errors.ExitOK {
				return errors.Silent(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&depthStr, "depth", "basic", "check depth: basic|standard|thorough|paranoid")
	cmd.Flags().StringVar(&featureID, "feature", "", "run all automatable items of this feature")
	cmd.Flags().StringVar(&itemID, "item", "", "run exactly this item")
	cmd.Flags().BoolVar(&affected, "affected", false, "only items whose feature sources changed since last verification")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "parallel item executions (default from vouch.yaml)")

	return cmd
}
