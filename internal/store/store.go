// Package store provides persistence for the verification registry and its
// sibling documents (checkpoint, issues). The registry is written atomically
// via temp file + rename, with a validation gate and a shrink guard so a
// buggy mutation can never truncate the knowledge base.
package store

import (
	"path/filepath"
	"time"

	"github.com/vouchcli/vouch/internal/fs"
)

// Store handles persistence of the registry and path layout for the rest of
// the engine. All registry mutation goes through AtomicUpdate; there are no
// ad hoc partial field writes anywhere else.
type Store struct {
	FS      fs.FS            // filesystem interface for stubbing
	DataDir string           // resolved VOUCH_DATA_DIR
	Now     func() time.Time // injectable clock for deterministic tests

	// MaxShrink is the number of items a single update may legally drop.
	// An update shrinking the item count by more than this is rejected and
	// rolled back (defense against truncation bugs).
	MaxShrink int

	state storeState
}

// NewStore creates a new Store with the given dependencies.
func NewStore(filesystem fs.FS, dataDir string, now func() time.Time) *Store {
	return &Store{
		FS:      filesystem,
		DataDir: dataDir,
		Now:     now,
	}
}

// RegistryPath returns the path to registry.json.
func (s *Store) RegistryPath() string {
	return filepath.Join(s.DataDir, "registry.json")
}

// RegistryBackupPath returns the path to the prior committed registry.
// Refreshed on every successful commit; used for corruption recovery.
func (s *Store) RegistryBackupPath() string {
	return filepath.Join(s.DataDir, "registry.json.bak")
}

// CheckpointPath returns the path to checkpoint.json.
func (s *Store) CheckpointPath() string {
	return filepath.Join(s.DataDir, "checkpoint.json")
}

// IssuesDir returns the directory holding one document per issue.
func (s *Store) IssuesDir() string {
	return filepath.Join(s.DataDir, "issues")
}

// IssuePath returns the path to a single issue document.
func (s *Store) IssuePath(issueID string) string {
	return filepath.Join(s.IssuesDir(), issueID+".json")
}

// RunsDir returns the per-run artifacts directory.
func (s *Store) RunsDir() string {
	return filepath.Join(s.DataDir, "runs")
}

// RunDir returns the directory for a specific engine run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.RunsDir(), runID)
}

// EventsPath returns the path to a run's events.jsonl.
func (s *Store) EventsPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "events.jsonl")
}

// SandboxDir returns the scratch directory owned by a single scenario run.
// Teardown deletes it through fs.SafeRemoveAll unless flagged preserve.
func (s *Store) SandboxDir(runID, scenarioID string) string {
	return filepath.Join(s.RunDir(runID), "sandbox", scenarioID)
}
