package cobra

import (
	"context"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vouchcli/vouch/internal/config"
	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/events"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/issues"
	"github.com/vouchcli/vouch/internal/report"
	"github.com/vouchcli/vouch/internal/stats"
	"github.com/vouchcli/vouch/internal/store"
)

// app bundles the wiring every subcommand needs: configuration, the loaded
// store, the issue tracker, and a logger.
type app struct {
	Cfg     config.Config
	FS      fs.FS
	Store   *store.Store
	Tracker *issues.Tracker
	Log     *zap.Logger

	// Restored is set when the registry was corrupt and recovered from
	// backup during load. The run continues but must exit 3.
	Restored bool
}

// newApp loads vouch.yaml from the working directory upward and opens the
// registry. A corrupt-but-restorable registry is surfaced, not fatal.
func newApp() (*app, error) {
	fsys := fs.NewRealFS()
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(errors.EInternal, "failed to get working directory", err)
	}
	cfg, err := config.Load(fsys, cwd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	st := store.NewStore(fsys, cfg.DataDir, time.Now)
	st.MaxShrink = cfg.MaxShrink
	_, restored, err := st.Load()
	if err != nil {
		return nil, err
	}
	if restored {
		logger.Warn("registry was corrupt, restored from backup",
			zap.String("registry", st.RegistryPath()))
	}

	return &app{
		Cfg:      cfg,
		FS:       fsys,
		Store:    st,
		Tracker:  issues.NewTracker(st),
		Log:      logger,
		Restored: restored,
	}, nil
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if globalOpts.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(errors.EInternal, "failed to initialize logger", err)
	}
	return logger, nil
}

// Close flushes the logger.
func (a *app) Close() {
	_ = a.Log.Sync()
}

// restoredErr converts a backup recovery during load into the exit-3 error,
// returned once the command's own work has succeeded.
func (a *app) restoredErr() error {
	if !a.Restored {
		return nil
	}
	return errors.New(errors.ERegistryRestored, "registry was corrupt and restored from backup")
}

// emitRestored records the recovery in the run's event log.
func (a *app) emitRestored(runID string) {
	if !a.Restored {
		return
	}
	e := events.Event{
		SchemaVersion: events.EventSchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		RunID:         runID,
		Event:         "registry_restored",
		Data:          events.RegistryRestoredData(a.Store.RegistryBackupPath()),
	}
	if err := events.AppendEvent(a.Store.EventsPath(runID), e); err != nil {
		a.Log.Warn("registry_restored event not recorded", zap.Error(err))
	}
}

// signalContext returns a context cancelled on SIGINT so in-flight check
// processes get their grace period instead of dying with the parent.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// foldStats recomputes statistics over the post-run registry and folds any
// inconsistency into the summary, where it fails the exit code.
func (a *app) foldStats(summary *report.Summary) {
	snap, err := a.Store.Snapshot()
	if err == nil {
		_, err = stats.Recompute(snap)
	}
	if err != nil {
		a.Log.Warn("post-run statistics recomputation failed", zap.Error(err))
		summary.FoldStatsError(err)
	}
}

// issueStatus builds the issue-id to status lookup used to decide whether
// an item is blocked.
func (a *app) issueStatus() (func(string) (string, bool), error) {
	return a.Tracker.StatusIndex()
}
