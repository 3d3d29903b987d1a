// Package machine runs the automated checks recorded for registry items and
// persists their machine verification state. It is the only writer of
// Item.Machine: every other component treats that state as read-only
// evidence.
package machine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/events"
	"github.com/vouchcli/vouch/internal/executor"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/registry"
	"github.com/vouchcli/vouch/internal/store"
)

// OutcomeStatus classifies what happened to one item during a run.
type OutcomeStatus string

const (
	OutcomeVerified OutcomeStatus = "verified"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeSkipped  OutcomeStatus = "skipped" // config gap: no checks at the requested depth
	OutcomeBlocked  OutcomeStatus = "blocked" // open issues on the item
)

// Outcome is the result of running one item's checks at one depth.
type Outcome struct {
	ItemID     string
	FeatureID  string
	Status     OutcomeStatus
	Depth      registry.Depth
	ChecksRun  int
	DurationMS int64
	Failed     []executor.Result // results of the checks that did not pass
	OpenIssues []string          // populated when Status is blocked
	Err        error             // E_CONFIG_GAP or E_BLOCKED_BY_ISSUE detail
}

// Verifier drives check execution and persists the results.
type Verifier struct {
	Store      *store.Store
	Exec       *executor.Executor
	FS         fs.FS
	Log        *zap.Logger
	Now        func() time.Time
	Target     string // substituted for {target} in check commands
	SourceRoot string // root for feature source fingerprints
	RunID      string // events are appended under this run
	Jobs       int    // sweep parallelism; <1 means serial

	// IssueStatus looks up an issue's current status. Nil means no issue
	// index is available, in which case any linked issue id blocks.
	IssueStatus func(issueID string) (string, bool)
}

// VerifyItem runs every check the item declares at depth, in declared
// order, with no short-circuit, and persists the resulting machine state.
//
// Items that are not automatable are refused with E_CLASS_CONFLICT: running
// machine checks against a claim that machine evidence cannot support would
// record evidence the classification says cannot exist.
func (v *Verifier) VerifyItem(ctx context.Context, itemID string, depth registry.Depth) (Outcome, error) {
	snap, err := v.Store.Snapshot()
	if err != nil {
		return Outcome{}, err
	}
	it, feat, ok := snap.FindItem(itemID)
	if !ok {
		return Outcome{}, errors.NewWithDetails(errors.EItemNotFound,
			fmt.Sprintf("no registry item %q", itemID),
			map[string]string{"item": itemID})
	}
	if it.Class != registry.ClassAutomatable {
		return Outcome{}, errors.NewWithDetails(errors.EClassConflict,
			fmt.Sprintf("item %q is classified %s; machine verification does not apply", itemID, it.Class),
			map[string]string{"item": itemID, "class": string(it.Class)})
	}
	return v.verify(ctx, *it, feat.ID, depth)
}

// verify runs one automatable item. Callers have already checked the class.
func (v *Verifier) verify(ctx context.Context, it registry.Item, featureID string, depth registry.Depth) (Outcome, error) {
	out := Outcome{ItemID: it.ID, FeatureID: featureID, Depth: depth}

	if blocked, open := registry.HasOpenIssues(it, v.statusOf()); blocked {
		out.Status = OutcomeBlocked
		out.OpenIssues = open
		out.Err = errors.NewWithDetails(errors.EBlockedByIssue,
			fmt.Sprintf("item %q has open issues", it.ID),
			map[string]string{"item": it.ID, "issues": fmt.Sprintf("%v", open)})
		v.Log.Warn("item blocked by open issues",
			zap.String("item", it.ID),
			zap.Strings("issues", open))
		v.emit("verification_blocked", events.VerificationBlockedData(it.ID, open))
		return out, nil
	}

	// The depth's check list is authoritative. A depth with no checks is a
	// configuration gap, not a pass.
	checks := it.Checks[depth]
	if len(checks) == 0 {
		out.Status = OutcomeSkipped
		out.Err = errors.NewWithDetails(errors.EConfigGap,
			fmt.Sprintf("item %q declares no checks at depth %s", it.ID, depth),
			map[string]string{"item": it.ID, "depth": string(depth)})
		v.Log.Info("no checks at depth, skipping",
			zap.String("item", it.ID),
			zap.String("depth", string(depth)))
		v.emit("item_skipped", events.ItemSkippedData(it.ID, string(depth)))
		return out, nil
	}

	vars := executor.Vars{
		Target:  v.Target,
		Item:    it.ID,
		Feature: featureID,
		DataDir: v.Store.DataDir,
	}

	var lastTail []string
	for _, check := range checks {
		res, err := v.Exec.Run(ctx, check, vars)
		if err != nil {
			return out, err
		}
		out.ChecksRun++
		out.DurationMS += res.DurationMS
		lastTail = res.OutputTail
		if !res.Passed {
			out.Failed = append(out.Failed, res)
		}
		v.Log.Debug("check finished",
			zap.String("item", it.ID),
			zap.String("command", res.Command),
			zap.Bool("passed", res.Passed),
			zap.Int64("duration_ms", res.DurationMS))
		v.emit("check_finished", events.CheckFinishedData(
			it.ID, string(depth), res.Command, res.Passed, res.TimedOut, res.ExitCode, res.DurationMS))
		if res.Cancelled {
			return out, ctx.Err()
		}
	}

	passed := len(out.Failed) == 0
	state := registry.MachineCheckState{
		Verified:   passed,
		Depth:      depth,
		VerifiedAt: v.Now().UTC().Format(time.RFC3339Nano),
		DurationMS: out.DurationMS,
		OutputTail: lastTail,
	}
	if !passed {
		state.OutputTail = out.Failed[0].OutputTail
	}
	if err := v.persist(it.ID, state); err != nil {
		return out, err
	}

	if passed {
		out.Status = OutcomeVerified
		v.Log.Info("item verified",
			zap.String("item", it.ID),
			zap.String("depth", string(depth)),
			zap.Int("checks", out.ChecksRun),
			zap.Int64("duration_ms", out.DurationMS))
		v.emit("item_verified", events.ItemVerifiedData(it.ID, string(depth), out.DurationMS))
	} else {
		out.Status = OutcomeFailed
		v.Log.Warn("item failed",
			zap.String("item", it.ID),
			zap.String("depth", string(depth)),
			zap.Int("failed_checks", len(out.Failed)))
	}
	return out, nil
}

// persist writes the machine state through the store. The class invariant
// is re-asserted inside the mutation against the current registry, not the
// snapshot the run started from: a concurrent reclassification must win.
func (v *Verifier) persist(itemID string, state registry.MachineCheckState) error {
	_, err := v.Store.AtomicUpdate(func(reg *registry.Registry) error {
		it, _, ok := reg.FindItem(itemID)
		if !ok {
			return errors.New(errors.EItemNotFound, fmt.Sprintf("item %q vanished during run", itemID))
		}
		if state.Verified && it.Class != registry.ClassAutomatable {
			return errors.NewWithDetails(errors.EClassConflict,
				fmt.Sprintf("refusing to mark %s item %q machine-verified", it.Class, itemID),
				map[string]string{"item": itemID, "class": string(it.Class)})
		}
		it.Machine = state
		return nil
	})
	return err
}

// VerifyFeature runs every automatable item of one feature at depth.
// Non-automatable items are outside machine scope and are not outcomes.
func (v *Verifier) VerifyFeature(ctx context.Context, featureID string, depth registry.Depth) ([]Outcome, error) {
	snap, err := v.Store.Snapshot()
	if err != nil {
		return nil, err
	}
	feat, ok := snap.FindFeature(featureID)
	if !ok {
		return nil, errors.NewWithDetails(errors.EFeatureNotFound,
			fmt.Sprintf("no registry feature %q", featureID),
			map[string]string{"feature": featureID})
	}
	var outcomes []Outcome
	for _, it := range feat.Items {
		if it.Class != registry.ClassAutomatable {
			continue
		}
		out, err := v.verify(ctx, it, feat.ID, depth)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Sweep runs every automatable item in the registry at depth. When
// affectedOnly is set, only items of features whose source fingerprints
// are stale are selected.
//
// Items run in parallel up to Jobs; each item's own checks stay serial.
func (v *Verifier) Sweep(ctx context.Context, depth registry.Depth, affectedOnly bool) ([]Outcome, error) {
	snap, err := v.Store.Snapshot()
	if err != nil {
		return nil, err
	}

	type work struct {
		item      registry.Item
		featureID string
	}
	var pending []work
	for _, feat := range snap.Features {
		if affectedOnly && !registry.SourcesStale(v.FS, v.SourceRoot, feat) {
			continue
		}
		for _, it := range feat.Items {
			if it.Class != registry.ClassAutomatable {
				continue
			}
			pending = append(pending, work{item: it, featureID: feat.ID})
		}
	}

	jobs := v.Jobs
	if jobs < 1 {
		jobs = 1
	}
	outcomes := make([]Outcome, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, w := range pending {
		i, w := i, w
		g.Go(func() error {
			out, err := v.verify(gctx, w.item, w.featureID, depth)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].ItemID < outcomes[j].ItemID })
	return outcomes, nil
}

func (v *Verifier) statusOf() func(string) (string, bool) {
	if v.IssueStatus != nil {
		return v.IssueStatus
	}
	return func(string) (string, bool) { return "", false }
}

func (v *Verifier) emit(name string, data map[string]any) {
	if v.RunID == "" {
		return
	}
	e := events.Event{
		SchemaVersion: events.EventSchemaVersion,
		Timestamp:     v.Now().UTC().Format(time.RFC3339Nano),
		RunID:         v.RunID,
		Event:         name,
		Data:          data,
	}
	if err := events.AppendEvent(v.Store.EventsPath(v.RunID), e); err != nil {
		v.Log.Warn("event append failed", zap.String("event", name), zap.Error(err))
	}
}
