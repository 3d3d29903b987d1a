package scenario

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vouchcli/vouch/internal/config"
	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/events"
	"github.com/vouchcli/vouch/internal/executor"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/registry"
	"github.com/vouchcli/vouch/internal/store"
)

// Result is the outcome of one scenario within a run.
type Result struct {
	ID          string
	State       string
	Confidence  float64
	StepsPassed int
	StepsTotal  int
	DurationMS  int64
	Retried     bool     // at least one step passed only after a fix-pattern retry
	UnmetDeps   []string // populated when State is skipped
	Items       []string // exercised item ids, for coverage attribution
}

// Options select which scenarios a run executes.
type Options struct {
	Only   string // run exactly this scenario id
	From   string // start at this id in topological order
	Resume bool   // reload the last checkpoint instead of starting fresh

	// KeepCheckpoint retains checkpoint.json after a fully passed run,
	// for debugging.
	KeepCheckpoint bool
}

// Runner executes scenario sets against a checkpoint.
type Runner struct {
	Store  *store.Store
	Exec   *executor.Executor
	FS     fs.FS
	Log    *zap.Logger
	Now    func() time.Time
	RunID  string
	Set    *Set
	Target string
	Jobs   int // parallel independent scenarios; <1 means serial

	// Bands is the confidence step function. Nil means the default table.
	Bands []config.ConfidenceBand

	mu sync.Mutex // guards checkpoint mutation and persistence
	cp *Checkpoint
}

// Run executes the selected scenarios in dependency order. Independent
// scenarios run in parallel; a dependency edge strictly serializes.
// Per-scenario failures are collected into results, not returned as errors.
func (r *Runner) Run(ctx context.Context, opts Options) ([]Result, error) {
	if err := r.initCheckpoint(opts); err != nil {
		return nil, err
	}

	selected, err := r.selectScenarios(opts)
	if err != nil {
		return nil, err
	}

	// From re-runs its suffix even when a prior run passed it; earlier
	// records stay intact so prefix dependencies remain satisfied.
	if opts.From != "" {
		r.mu.Lock()
		for _, id := range selected {
			r.cp.Scenarios[id] = Record{State: StatePending}
		}
		r.mu.Unlock()
	}

	// An explicitly requested scenario with unmet dependencies is a
	// configuration error, not a quiet skip.
	if opts.Only != "" {
		sc, _ := r.Set.Get(opts.Only)
		if unmet := r.unmetDeps(sc); len(unmet) > 0 {
			return nil, errors.NewWithDetails(errors.EDepUnmet,
				fmt.Sprintf("scenario %q requires %v to have passed first", opts.Only, unmet),
				map[string]string{"scenario": opts.Only, "deps": fmt.Sprintf("%v", unmet)})
		}
	}

	results := make(map[string]Result, len(selected))
	remaining := append([]string(nil), selected...)
	for len(remaining) > 0 {
		ready, blocked := r.partition(remaining, results)
		if len(ready) == 0 {
			// Everything left waits on a scenario that did not pass.
			for _, id := range blocked {
				sc, _ := r.Set.Get(id)
				unmet := r.unmetDeps(sc)
				res := Result{ID: id, State: StateSkipped, UnmetDeps: unmet, Items: sc.Items}
				results[id] = res
				r.recordSkip(id, unmet)
			}
			break
		}

		jobs := r.Jobs
		if jobs < 1 {
			jobs = 1
		}
		var rmu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(jobs)
		for _, id := range ready {
			id := id
			g.Go(func() error {
				res, err := r.runScenario(gctx, id)
				if err != nil {
					return err
				}
				rmu.Lock()
				results[id] = res
				rmu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return r.ordered(results, selected), err
		}
		remaining = blocked
	}

	out := r.ordered(results, selected)
	if !opts.KeepCheckpoint && allPassed(out) && opts.Only == "" {
		if err := RemoveCheckpoint(r.FS, r.Store); err != nil {
			r.Log.Warn("checkpoint cleanup failed", zap.Error(err))
		}
	}
	return out, nil
}

func (r *Runner) initCheckpoint(opts Options) error {
	if opts.Resume || opts.Only != "" || opts.From != "" {
		cp, err := LoadCheckpoint(r.FS, r.Store)
		if err != nil {
			return err
		}
		if cp != nil {
			// Scenarios added since the checkpoint was written start pending.
			for _, id := range r.Set.Order() {
				if _, ok := cp.Scenarios[id]; !ok {
					cp.Scenarios[id] = Record{State: StatePending}
				}
			}
			r.cp = cp
			return nil
		}
		if opts.Resume {
			r.Log.Info("no checkpoint to resume, starting fresh")
		}
	}
	r.cp = NewCheckpoint(r.RunID, r.now(), r.Set.Order())
	return nil
}

// selectScenarios resolves Options into a topologically ordered id list,
// excluding scenarios already passed in the checkpoint.
func (r *Runner) selectScenarios(opts Options) ([]string, error) {
	order := r.Set.Order()
	switch {
	case opts.Only != "":
		if _, ok := r.Set.Get(opts.Only); !ok {
			return nil, errors.New(errors.EScenarioNotFound, fmt.Sprintf("no scenario %q", opts.Only))
		}
		return []string{opts.Only}, nil
	case opts.From != "":
		idx := -1
		for i, id := range order {
			if id == opts.From {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, errors.New(errors.EScenarioNotFound, fmt.Sprintf("no scenario %q", opts.From))
		}
		// From re-runs its suffix unconditionally; prior passes before the
		// suffix still satisfy dependencies.
		return append([]string(nil), order[idx:]...), nil
	}

	var selected []string
	for _, id := range order {
		if r.cp.Passed(id) {
			continue
		}
		selected = append(selected, id)
	}
	return selected, nil
}

// partition splits ids into those whose dependencies have all passed and
// the rest. An id whose dependency failed or was skipped can never become
// ready and stays blocked.
func (r *Runner) partition(ids []string, done map[string]Result) (ready, blocked []string) {
	for _, id := range ids {
		if _, finished := done[id]; finished {
			continue
		}
		sc, _ := r.Set.Get(id)
		if len(r.unmetDeps(sc)) == 0 {
			ready = append(ready, id)
		} else {
			blocked = append(blocked, id)
		}
	}
	return ready, blocked
}

func (r *Runner) unmetDeps(sc *Scenario) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var unmet []string
	for _, dep := range sc.DependsOn {
		if r.cp.Scenarios[dep].State != StatePassed {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// runScenario executes all steps of one scenario and commits the outcome
// to the checkpoint. Steps run strictly in order; the first step that
// stays failed after its fix-pattern retry ends the scenario.
func (r *Runner) runScenario(ctx context.Context, id string) (Result, error) {
	sc, _ := r.Set.Get(id)
	res := Result{ID: id, StepsTotal: len(sc.Steps), Items: sc.Items}

	r.setState(id, Record{State: StateRunning})
	r.Log.Info("scenario started", zap.String("scenario", id), zap.Int("steps", len(sc.Steps)))
	r.emit("scenario_started", events.ScenarioStartedData(id, len(sc.Steps)))

	// Each scenario owns a scratch directory; parallel scenarios never
	// share one. Torn down on completion unless the scenario preserves
	// external resources.
	sandbox := r.Store.SandboxDir(r.RunID, id)
	if err := r.FS.MkdirAll(sandbox, 0o755); err != nil {
		return res, errors.Wrap(errors.EPersistFailed, "creating scenario sandbox", err)
	}
	exec := *r.Exec
	exec.WorkDir = sandbox
	defer func() {
		if len(sc.Preserve) > 0 {
			return
		}
		if err := fs.SafeRemoveAll(sandbox, r.Store.DataDir); err != nil {
			r.Log.Warn("sandbox teardown failed", zap.String("scenario", id), zap.Error(err))
		}
	}()

	start := time.Now()
	for i, step := range sc.Steps {
		r.setState(id, Record{State: StateRunning, Step: i})
		passed, retried, err := r.runStep(ctx, &exec, sc, i, step)
		if err != nil {
			return res, err
		}
		r.emit("step_finished", events.StepFinishedData(id, i, passed, retried))
		if retried {
			res.Retried = true
		}
		if !passed {
			break
		}
		res.StepsPassed++
	}
	res.DurationMS = time.Since(start).Milliseconds()

	fraction := 0.0
	if res.StepsTotal > 0 {
		fraction = float64(res.StepsPassed) / float64(res.StepsTotal)
	}
	res.Confidence = Confidence(fraction, r.Bands)
	if res.StepsPassed == res.StepsTotal {
		res.State = StatePassed
	} else {
		res.State = StateFailed
	}

	r.commit(id, sc, res)
	r.Log.Info("scenario finished",
		zap.String("scenario", id),
		zap.String("state", res.State),
		zap.Float64("confidence", res.Confidence),
		zap.Int64("duration_ms", res.DurationMS))
	r.emit("scenario_finished", events.ScenarioFinishedData(id, res.State, res.Confidence, res.DurationMS))
	return res, nil
}

// runStep runs one step, applying the first matching fix pattern and
// retrying once on failure.
func (r *Runner) runStep(ctx context.Context, exec *executor.Executor, sc *Scenario, idx int, step Step) (passed, retried bool, err error) {
	ok, output, err := r.execStep(ctx, exec, sc, step)
	if err != nil || ok {
		return ok, false, err
	}

	fix := r.matchFix(output)
	if fix == nil {
		return false, false, nil
	}
	r.Log.Info("applying fix pattern",
		zap.String("scenario", sc.ID),
		zap.Int("step", idx),
		zap.String("pattern", fix.Pattern))
	r.emit("finding", events.FindingData(sc.ID,
		fmt.Sprintf("step %q matched fix pattern %q", step.Name, fix.Pattern)))
	for _, cmd := range fix.Commands {
		fixCheck := registry.Check{Command: cmd, ExpectedExit: 0, TimeoutMS: step.TimeoutMS}
		if _, err := exec.Run(ctx, fixCheck, r.vars()); err != nil {
			return false, false, err
		}
	}
	ok, _, err = r.execStep(ctx, exec, sc, step)
	return ok, true, err
}

// execStep runs the step's command and evaluates its assertions.
func (r *Runner) execStep(ctx context.Context, exec *executor.Executor, sc *Scenario, step Step) (bool, string, error) {
	check := registry.Check{
		Command:      step.Command,
		ExpectedExit: step.ExpectedExit,
		TimeoutMS:    step.TimeoutMS,
	}
	res, err := exec.Run(ctx, check, r.vars())
	if err != nil {
		return false, "", err
	}
	output := strings.Join(res.OutputTail, "\n")
	if res.Cancelled {
		return false, output, ctx.Err()
	}
	if !res.Passed {
		return false, output, nil
	}
	for _, want := range step.AssertContains {
		if !strings.Contains(output, want) {
			r.Log.Debug("assertion failed",
				zap.String("scenario", sc.ID),
				zap.String("want", want))
			return false, output, nil
		}
	}
	if step.Capture != "" {
		value := strings.TrimSpace(output)
		r.mu.Lock()
		r.cp.Baselines[step.Capture] = value
		r.mu.Unlock()
		r.emit("baseline_captured", events.BaselineCapturedData(sc.ID, step.Capture, value))
	}
	if step.Compare != nil {
		r.mu.Lock()
		baseline, ok := r.cp.Baselines[step.Compare.Baseline]
		r.mu.Unlock()
		if !ok {
			return false, output, errors.NewWithDetails(errors.EBaselineMissing,
				fmt.Sprintf("scenario %q compares against baseline %q which was never captured", sc.ID, step.Compare.Baseline),
				map[string]string{"scenario": sc.ID})
		}
		if !BaselineMatch(baseline, strings.TrimSpace(output), step.Compare.Tolerance) {
			r.Log.Debug("baseline comparison failed",
				zap.String("scenario", sc.ID),
				zap.String("baseline", step.Compare.Baseline),
				zap.String("want", baseline))
			return false, output, nil
		}
	}
	return true, output, nil
}

func (r *Runner) matchFix(output string) *FixPattern {
	for i := range r.Set.FixPatterns {
		if r.Set.FixPatterns[i].Matches(output) {
			return &r.Set.FixPatterns[i]
		}
	}
	return nil
}

func (r *Runner) vars() executor.Vars {
	return executor.Vars{Target: r.Target, DataDir: r.Store.DataDir}
}

// setState updates a scenario's checkpoint record in memory only. Running
// state is informational; the durable write happens at completion.
func (r *Runner) setState(id string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cp.Scenarios[id] = rec
}

// commit records a completed scenario and persists the checkpoint. This is
// the durability boundary: on resume, anything after the last commit is
// discarded, never partially replayed.
func (r *Runner) commit(id string, sc *Scenario, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cp.Scenarios[id] = Record{
		State:      res.State,
		Confidence: res.Confidence,
		DurationMS: res.DurationMS,
		FinishedAt: r.now(),
	}
	if res.State == StatePassed {
		for _, resource := range sc.Preserve {
			if !contains(r.cp.Preserved, resource) {
				r.cp.Preserved = append(r.cp.Preserved, resource)
			}
		}
	}
	r.cp.UpdatedAt = r.now()
	if err := SaveCheckpoint(r.Store, r.cp); err != nil {
		r.Log.Error("checkpoint write failed", zap.String("scenario", id), zap.Error(err))
		return
	}
	completed := 0
	for _, rec := range r.cp.Scenarios {
		switch rec.State {
		case StatePassed, StateFailed, StateSkipped:
			completed++
		}
	}
	r.emit("checkpoint_written", events.CheckpointWrittenData(completed, len(r.cp.Scenarios)))
}

func (r *Runner) recordSkip(id string, unmet []string) {
	r.mu.Lock()
	r.cp.Scenarios[id] = Record{State: StateSkipped, UnmetDeps: unmet}
	r.cp.UpdatedAt = r.now()
	if err := SaveCheckpoint(r.Store, r.cp); err != nil {
		r.Log.Error("checkpoint write failed", zap.String("scenario", id), zap.Error(err))
	}
	r.mu.Unlock()
	r.Log.Warn("scenario skipped, dependencies unmet",
		zap.String("scenario", id),
		zap.Strings("deps", unmet))
	r.emit("scenario_skipped", events.ScenarioSkippedData(id, unmet))
}

func (r *Runner) ordered(results map[string]Result, selected []string) []Result {
	out := make([]Result, 0, len(results))
	for _, id := range selected {
		if res, ok := results[id]; ok {
			out = append(out, res)
		}
	}
	return out
}

func (r *Runner) now() string {
	return r.Now().UTC().Format(time.RFC3339Nano)
}

func (r *Runner) emit(name string, data map[string]any) {
	if r.RunID == "" {
		return
	}
	e := events.Event{
		SchemaVersion: events.EventSchemaVersion,
		Timestamp:     r.now(),
		RunID:         r.RunID,
		Event:         name,
		Data:          data,
	}
	if err := events.AppendEvent(r.Store.EventsPath(r.RunID), e); err != nil {
		r.Log.Warn("event append failed", zap.String("event", name), zap.Error(err))
	}
}

func allPassed(results []Result) bool {
	for _, res := range results {
		if res.State != StatePassed {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Confidence maps the fraction of passed steps through the band table.
// Bands are consulted top-down; the first whose MinFraction is met wins.
func Confidence(fraction float64, bands []config.ConfidenceBand) float64 {
	if bands == nil {
		bands = config.DefaultConfidenceBands
	}
	for _, band := range bands {
		if fraction >= band.MinFraction {
			return band.Score
		}
	}
	return 0
}

// BaselineMatch compares an actual value to a stored baseline. Numeric
// values compare within tolerance; anything else is exact string equality,
// and a nonzero tolerance on non-numeric values can never match.
func BaselineMatch(baseline, actual string, tolerance float64) bool {
	b, berr := strconv.ParseFloat(baseline, 64)
	a, aerr := strconv.ParseFloat(actual, 64)
	if berr == nil && aerr == nil {
		return math.Abs(a-b) <= tolerance
	}
	return tolerance == 0 && baseline == actual
}
