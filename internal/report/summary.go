// Package report renders end-of-run summaries. Every run ends with one,
// even under partial failure: the counts are the caller's contract, the
// exit code is derived from them.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/events"
	"github.com/vouchcli/vouch/internal/machine"
	"github.com/vouchcli/vouch/internal/scenario"
)

// Summary aggregates a run's outcomes.
type Summary struct {
	RunID string

	Passed  int // verified items / passed scenarios
	Failed  int
	Skipped int // config gaps / unmet dependencies
	Blocked int // items with open issues

	// ConfigGaps lists item ids that declared no checks at the requested
	// depth.
	ConfigGaps []string

	// BlockedItems lists item ids held back by open issues.
	BlockedItems []string

	// Inconsistencies counts hard invariant violations observed during the
	// run (classification conflicts, failed stats recomputation).
	Inconsistencies int

	// Restored is set when the registry was recovered from backup at load.
	Restored bool
}

// AddOutcome folds one machine verifier outcome into the summary.
func (s *Summary) AddOutcome(out machine.Outcome) {
	switch out.Status {
	case machine.OutcomeVerified:
		s.Passed++
	case machine.OutcomeFailed:
		s.Failed++
	case machine.OutcomeSkipped:
		s.Skipped++
		s.ConfigGaps = append(s.ConfigGaps, out.ItemID)
	case machine.OutcomeBlocked:
		s.Blocked++
		s.BlockedItems = append(s.BlockedItems, out.ItemID)
	}
}

// AddScenario folds one scenario result into the summary.
func (s *Summary) AddScenario(res scenario.Result) {
	switch res.State {
	case scenario.StatePassed:
		s.Passed++
	case scenario.StateFailed:
		s.Failed++
	case scenario.StateSkipped:
		s.Skipped++
	}
}

// FoldStatsError folds a failed post-run statistics recomputation into the
// summary. The run's own results stand; the violation fails the exit code.
func (s *Summary) FoldStatsError(err error) {
	if err != nil {
		s.Inconsistencies++
	}
}

// ExitCode derives the process exit code from the counts.
func (s *Summary) ExitCode() int {
	switch {
	case s.Restored:
		return errors.ExitRestored
	case s.Failed > 0 || s.Inconsistencies > 0:
		return errors.ExitFailures
	default:
		return errors.ExitOK
	}
}

// Render writes the human-readable summary.
func (s *Summary) Render(w io.Writer) {
	fmt.Fprintf(w, "\n%d passed, %d failed, %d skipped, %d blocked\n",
		s.Passed, s.Failed, s.Skipped, s.Blocked)
	for _, id := range s.ConfigGaps {
		fmt.Fprintf(w, "  config gap: %s has no checks at the requested depth\n", id)
	}
	for _, id := range s.BlockedItems {
		fmt.Fprintf(w, "  blocked: %s has open issues\n", id)
	}
	if s.Inconsistencies > 0 {
		fmt.Fprintf(w, "  %d inconsistencies found; statistics are withheld until repaired\n", s.Inconsistencies)
	}
	if s.Restored {
		fmt.Fprintln(w, "  registry was corrupt and has been restored from backup")
	}
}

// Emit appends the summary to the run's event stream.
func (s *Summary) Emit(path string, now time.Time) error {
	return events.AppendEvent(path, events.Event{
		SchemaVersion: events.EventSchemaVersion,
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
		RunID:         s.RunID,
		Event:         "run_summary",
		Data:          events.RunSummaryData(s.Passed, s.Failed, s.Skipped, s.Blocked, s.Inconsistencies),
	})
}
