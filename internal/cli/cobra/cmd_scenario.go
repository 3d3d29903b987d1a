package cobra

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/executor"
	"github.com/vouchcli/vouch/internal/ids"
	"github.com/vouchcli/vouch/internal/report"
	"github.com/vouchcli/vouch/internal/scenario"
)

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run and inspect integration scenarios",
	}
	cmd.AddCommand(newScenarioRunCmd(), newScenarioLSCmd())
	return cmd
}

func newScenarioRunCmd() *cobra.Command {
	var only string
	var from string
	var resume bool
	var keep bool
	var jobs int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute scenarios in dependency order",
		Long: `Execute integration scenarios from scenarios.yaml in dependency order.

A checkpoint is written after every completed scenario; --resume reloads
it and continues from the first pending scenario without re-running
anything that already passed. --id runs a single scenario and fails if
its dependencies have not passed in the current checkpoint. --from
re-runs the topological suffix starting at the given scenario.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			if only != "" && from != "" {
				_ = cmd.Help()
				return errors.New(errors.EUsage, "--id and --from are mutually exclusive")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			reg, err := a.Store.Snapshot()
			if err != nil {
				return err
			}
			set, err := scenario.Load(a.FS, a.Cfg.Scenarios, reg)
			if err != nil {
				return err
			}

			if jobs <= 0 {
				jobs = a.Cfg.Jobs
			}
			runID := ids.NewRunID()
			a.emitRestored(runID)
			runner := &scenario.Runner{
				Store:  a.Store,
				Exec:   &executor.Executor{},
				FS:     a.FS,
				Log:    a.Log,
				Now:    time.Now,
				RunID:  runID,
				Set:    set,
				Target: a.Cfg.Target,
				Jobs:   jobs,
				Bands:  a.Cfg.ConfidenceBands,
			}

			ctx, cancel := signalContext()
			defer cancel()

			results, err := runner.Run(ctx, scenario.Options{
				Only:           only,
				From:           from,
				Resume:         resume,
				KeepCheckpoint: keep,
			})
			if err != nil {
				return err
			}

			summary := report.Summary{RunID: runID, Restored: a.Restored}
			for _, res := range results {
				summary.AddScenario(res)
				line := fmt.Sprintf("%-20s %s", res.ID, res.State)
				if res.State == scenario.StateFailed {
					line += fmt.Sprintf("  (%d/%d steps, confidence %.0f%%)",
						res.StepsPassed, res.StepsTotal, 100*res.Confidence)
				}
				if len(res.UnmetDeps) > 0 {
					line += fmt.Sprintf("  (needs %s)", strings.Join(res.UnmetDeps, ", "))
				}
				fmt.Fprintln(stdout, line)
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

	cmd.Flags().StringVar(&only, "id", "", "run exactly this scenario")
	cmd.Flags().StringVar(&from, "from", "", "re-run starting at this scenario in dependency order")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the last checkpoint")
	cmd.Flags().BoolVar(&keep, "keep-checkpoint", false, "retain checkpoint.json after a fully passed run")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "parallel independent scenarios (default from vouch.yaml)")

	return cmd
}

func newScenarioLSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List scenarios in dependency order",
		Args:  cobra.NoArgs,
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
			set, err := scenario.Load(a.FS, a.Cfg.Scenarios, reg)
			if err != nil {
				return err
			}
			cp, err := scenario.LoadCheckpoint(a.FS, a.Store)
			if err != nil {
				return err
			}

			for _, id := range set.Order() {
				sc, _ := set.Get(id)
				state := "pending"
				if cp != nil {
					if rec, ok := cp.Scenarios[id]; ok && rec.State != "" {
						state = rec.State
					}
				}
				line := fmt.Sprintf("%-20s %-8s %d steps", id, state, len(sc.Steps))
				if len(sc.DependsOn) > 0 {
					line += fmt.Sprintf("  after %s", strings.Join(sc.DependsOn, ", "))
				}
				fmt.Fprintln(stdout, line)
			}
			return nil
		},
	}
}
