package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/executor"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/store"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func testRunner(t *testing.T, yaml string) *Runner {
	t.Helper()
	set, err := loadSet(t, yaml)
	require.NoError(t, err)
	st := store.NewStore(fs.NewRealFS(), t.TempDir(), fixedNow)
	require.NoError(t, st.FS.MkdirAll(st.DataDir, 0o755))
	return &Runner{
		Store:  st,
		Exec:   &executor.Executor{},
		FS:     st.FS,
		Log:    zap.NewNop(),
		Now:    fixedNow,
		RunID:  "run-test00000001",
		Set:    set,
		Target: "test-target",
	}
}

func TestRun_AllPass(t *testing.T) {
	r := testRunner(t, validScenariosYAML)
	results, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, StatePassed, res.State, res.ID)
		assert.Equal(t, 1.0, res.Confidence, res.ID)
	}

	// The checkpoint is cleaned up after a fully passed run.
	_, err = fs.NewRealFS().ReadFile(r.Store.CheckpointPath())
	assert.Error(t, err)
}

func TestRun_CaptureAndCompare(t *testing.T) {
	r := testRunner(t, `
scenarios:
  - id: count-drift
    steps:
      - command: "echo 100"
        expected_exit: 0
        capture: before
      - command: "echo 103"
        expected_exit: 0
        compare:
          baseline: before
          tolerance: 5
      - command: "echo 120"
        expected_exit: 0
        compare:
          baseline: before
          tolerance: 5
`)
	results, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 2, res.StepsPassed)
	// 2/3 passed lands in the 0.5 band.
	assert.Equal(t, 0.5, res.Confidence)
}

func TestRun_CompareMissingBaseline(t *testing.T) {
	r := testRunner(t, `
scenarios:
  - id: bad
    steps:
      - command: "echo 1"
        expected_exit: 0
        compare:
          baseline: never_captured
          tolerance: 0
`)
	_, err := r.Run(context.Background(), Options{})
	assert.Equal(t, errors.EBaselineMissing, errors.GetCode(err))
}

func TestRun_AssertContains(t *testing.T) {
	r := testRunner(t, `
scenarios:
  - id: greps
    steps:
      - command: "echo hello world"
        expected_exit: 0
        assert_contains: [hello, world]
      - command: "echo hello"
        expected_exit: 0
        assert_contains: [goodbye]
`)
	results, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, results[0].State)
	assert.Equal(t, 1, results[0].StepsPassed)
}

func TestRun_DependencyFailureSkipsDownstream(t *testing.T) {
	r := testRunner(t, `
scenarios:
  - id: base
    steps: [{command: 'false', expected_exit: 0}]
  - id: downstream
    depends_on: [base]
    steps: [{command: 'true', expected_exit: 0}]
`)
	results, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StateFailed, results[0].State)
	assert.Equal(t, StateSkipped, results[1].State)
	assert.Equal(t, []string{"base"}, results[1].UnmetDeps)
}

func TestRun_ExplicitScenarioWithUnmetDep(t *testing.T) {
	r := testRunner(t, validScenariosYAML)
	_, err := r.Run(context.Background(), Options{Only: "backup-cycle"})
	assert.Equal(t, errors.EDepUnmet, errors.GetCode(err))
	assert.Equal(t, 2, errors.ExitCode(err))
}

func TestRun_UnknownScenario(t *testing.T) {
	r := testRunner(t, validScenariosYAML)
	_, err := r.Run(context.Background(), Options{Only: "ghost"})
	assert.Equal(t, errors.EScenarioNotFound, errors.GetCode(err))
}

func TestRun_ResumeNeverRerunsPassed(t *testing.T) {
	yaml := `
scenarios:
  - id: first
    preserve: [sandbox-instance]
    steps: [{command: 'true', expected_exit: 0}]
  - id: second
    depends_on: [first]
    steps: [{command: 'false', expected_exit: 0}]
`
	r := testRunner(t, yaml)
	results, err := r.Run(context.Background(), Options{KeepCheckpoint: true})
	require.NoError(t, err)
	assert.Equal(t, StatePassed, results[0].State)
	assert.Equal(t, StateFailed, results[1].State)

	// Resume with a fixed second scenario: first must not run again.
	set2, err := loadSet(t, `
scenarios:
  - id: first
    preserve: [sandbox-instance]
    steps: [{command: 'false', expected_exit: 0}]
  - id: second
    depends_on: [first]
    steps: [{command: 'true', expected_exit: 0}]
`)
	require.NoError(t, err)
	r2 := &Runner{
		Store:  r.Store,
		Exec:   r.Exec,
		FS:     r.FS,
		Log:    zap.NewNop(),
		Now:    fixedNow,
		RunID:  "run-test00000002",
		Set:    set2,
		Target: r.Target,
	}
	results, err = r2.Run(context.Background(), Options{Resume: true, KeepCheckpoint: true})
	require.NoError(t, err)
	// Only "second" was selected; "first" stayed passed from the checkpoint
	// even though its command now fails.
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].ID)
	assert.Equal(t, StatePassed, results[0].State)

	cp, err := LoadCheckpoint(r.FS, r.Store)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Passed("first"))
	assert.True(t, cp.Passed("second"))
	assert.Equal(t, []string{"sandbox-instance"}, cp.Preserved)
}

func TestRun_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	r := testRunner(t, validScenariosYAML)
	results, err := r.Run(context.Background(), Options{Resume: true})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRun_FixPatternRetry(t *testing.T) {
	dir := t.TempDir()
	r := testRunner(t, `
scenarios:
  - id: locky
    steps:
      - command: "test ! -f `+dir+`/lock && echo ok || echo 'lock held'; test ! -f `+dir+`/lock"
        expected_exit: 0
fix_patterns:
  - pattern: 'lock held'
    commands: ["rm -f `+dir+`/lock"]
`)
	require.NoError(t, fs.NewRealFS().WriteFile(dir+"/lock", []byte("pid 4242\n"), 0o644))

	results, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatePassed, results[0].State)
	assert.True(t, results[0].Retried)
}

func TestRun_FromSelectsSuffix(t *testing.T) {
	r := testRunner(t, validScenariosYAML)
	// Run everything once so dependencies are satisfied in the checkpoint.
	_, err := r.Run(context.Background(), Options{KeepCheckpoint: true})
	require.NoError(t, err)

	r2 := testRunner(t, validScenariosYAML)
	r2.Store = r.Store
	results, err := r2.Run(context.Background(), Options{From: "teardown"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "teardown", results[0].ID)
	assert.Equal(t, StatePassed, results[0].State)
	assert.Empty(t, results[0].UnmetDeps)
}

func TestRun_FromRerunsPassedSuffix(t *testing.T) {
	r := testRunner(t, validScenariosYAML)
	_, err := r.Run(context.Background(), Options{KeepCheckpoint: true})
	require.NoError(t, err)

	// The prior run passed everything. From alone must still re-run the
	// suffix, with the prefix's recorded passes satisfying dependencies.
	r2 := testRunner(t, validScenariosYAML)
	r2.Store = r.Store
	results, err := r2.Run(context.Background(), Options{From: "backup-cycle"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, StatePassed, res.State, res.ID)
		assert.Empty(t, res.UnmetDeps, res.ID)
	}
}

func TestLoadCheckpoint_Broken(t *testing.T) {
	st := store.NewStore(fs.NewRealFS(), t.TempDir(), fixedNow)
	require.NoError(t, st.FS.MkdirAll(st.DataDir, 0o755))
	require.NoError(t, st.FS.WriteFile(st.CheckpointPath(), []byte("{not json"), 0o644))
	_, err := LoadCheckpoint(fs.NewRealFS(), st)
	assert.Equal(t, errors.ECheckpointBroken, errors.GetCode(err))
}

func TestLoadCheckpoint_Missing(t *testing.T) {
	st := store.NewStore(fs.NewRealFS(), t.TempDir(), fixedNow)
	cp, err := LoadCheckpoint(fs.NewRealFS(), st)
	require.NoError(t, err)
	assert.Nil(t, cp)
}
