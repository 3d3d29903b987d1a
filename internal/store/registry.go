package store

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/registry"
)

// storeState holds the in-memory committed snapshot and the writer lock.
type storeState struct {
	mu       sync.Mutex   // serializes writers
	snapMu   sync.RWMutex // guards snapshot pointer
	snapshot *registry.Registry
	restored bool // last Load had to restore from backup
}

// Load reads, validates, and caches the registry document.
//
// If registry.json is unreadable or fails validation, Load attempts a
// lossless restore from the backup written on the last successful commit.
// The returned restored flag is true when that happened: the run must
// surface it (exit code 3) but may continue on the restored snapshot.
func (s *Store) Load() (*registry.Registry, bool, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	reg, err := s.readRegistry(s.RegistryPath())
	if err == nil {
		s.commitSnapshot(reg, false)
		return s.cloneSnapshot()
	}

	// Unknown schema is refused outright, never papered over by a restore.
	if errors.GetCode(err) == errors.ESchemaUnsupported {
		return nil, false, err
	}

	// Try the backup.
	bak, bakErr := s.readRegistry(s.RegistryBackupPath())
	if bakErr != nil {
		return nil, false, errors.Wrap(errors.EStoreCorrupt,
			fmt.Sprintf("registry unreadable and backup restore failed: %v", bakErr), err)
	}

	// Restore the backup over the corrupt primary so subsequent readers see
	// a consistent document.
	if werr := fs.WriteJSONAtomic(s.RegistryPath(), bak, 0o644); werr != nil {
		return nil, false, errors.Wrap(errors.EPersistFailed, "failed to restore registry from backup", werr)
	}

	s.commitSnapshot(bak, true)
	reg2, _, cerr := s.cloneSnapshot()
	return reg2, true, cerr
}

// Snapshot returns a deep copy of the last committed registry without
// blocking a concurrent writer. Load must have succeeded first.
func (s *Store) Snapshot() (*registry.Registry, error) {
	s.state.snapMu.RLock()
	snap := s.state.snapshot
	s.state.snapMu.RUnlock()
	if snap == nil {
		return nil, errors.New(errors.EInternal, "store snapshot requested before Load")
	}
	return snap.Clone()
}

// AtomicUpdate applies mutate to a copy of the committed registry, validates
// the result, and commits it via temp file + rename.
//
// Guarantees:
//   - a concurrent reader never observes a partially-written document
//   - an update shrinking the item count by more than MaxShrink is rejected
//   - on any validation failure the previous snapshot stays committed, on
//     disk and in memory, losslessly
func (s *Store) AtomicUpdate(mutate func(*registry.Registry) error) (*registry.Registry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.snapshot == nil {
		return nil, errors.New(errors.EInternal, "AtomicUpdate called before Load")
	}

	prev := s.state.snapshot
	next, err := prev.Clone()
	if err != nil {
		return nil, errors.Wrap(errors.EInternal, "failed to clone registry", err)
	}

	if err := mutate(next); err != nil {
		return nil, err
	}

	if err := next.Validate(); err != nil {
		return nil, errors.Wrap(errors.ERegistryCorrupt,
			"mutated registry failed validation; update rolled back", err)
	}

	if shrink := prev.ItemCount() - next.ItemCount(); shrink > s.MaxShrink {
		return nil, errors.NewWithDetails(errors.ERegistryShrunk,
			fmt.Sprintf("update would drop %d items (allowed: %d); update rolled back", shrink, s.MaxShrink),
			map[string]string{
				"before": fmt.Sprintf("%d", prev.ItemCount()),
				"after":  fmt.Sprintf("%d", next.ItemCount()),
			})
	}

	next.UpdatedAt = s.Now().UTC().Format(time.RFC3339Nano)

	// Refresh the backup from the current committed document before the
	// rename, so the prior version survives until the replace succeeds.
	if data, rerr := s.FS.ReadFile(s.RegistryPath()); rerr == nil {
		if werr := fs.WriteFileAtomic(s.RegistryBackupPath(), data, 0o644); werr != nil {
			return nil, errors.Wrap(errors.EPersistFailed, "failed to write registry backup", werr)
		}
	} else if !os.IsNotExist(rerr) {
		return nil, errors.Wrap(errors.EPersistFailed, "failed to read current registry for backup", rerr)
	}

	if err := fs.WriteJSONAtomic(s.RegistryPath(), next, 0o644); err != nil {
		return nil, errors.Wrap(errors.EPersistFailed, "failed to write registry", err)
	}

	s.commitSnapshot(next, s.state.restored)
	return next.Clone()
}

// Restored reports whether the last Load recovered the registry from backup.
func (s *Store) Restored() bool {
	s.state.snapMu.RLock()
	defer s.state.snapMu.RUnlock()
	return s.state.restored
}

// InitRegistry writes a fresh empty registry document. Fails if one exists.
func (s *Store) InitRegistry() error {
	if _, err := s.FS.Stat(s.RegistryPath()); err == nil {
		return errors.New(errors.EUsage, "registry.json already exists")
	}
	if err := s.FS.MkdirAll(s.DataDir, 0o755); err != nil {
		return errors.Wrap(errors.EPersistFailed, "failed to create data dir", err)
	}
	reg := &registry.Registry{
		SchemaVersion: registry.SchemaVersion,
		UpdatedAt:     s.Now().UTC().Format(time.RFC3339Nano),
		Features:      []registry.Feature{},
	}
	return fs.WriteJSONAtomic(s.RegistryPath(), reg, 0o644)
}

func (s *Store) readRegistry(path string) (*registry.Registry, error) {
	data, err := s.FS.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.EStoreCorrupt, "failed to read "+path, err)
	}
	var reg registry.Registry
	if err := fs.UnmarshalJSON(data, &reg); err != nil {
		return nil, errors.Wrap(errors.EStoreCorrupt, "invalid json in "+path, err)
	}
	reg.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *Store) commitSnapshot(reg *registry.Registry, restored bool) {
	s.state.snapMu.Lock()
	s.state.snapshot = reg
	s.state.restored = restored
	s.state.snapMu.Unlock()
}

func (s *Store) cloneSnapshot() (*registry.Registry, bool, error) {
	s.state.snapMu.RLock()
	snap := s.state.snapshot
	restored := s.state.restored
	s.state.snapMu.RUnlock()
	cp, err := snap.Clone()
	if err != nil {
		return nil, restored, errors.Wrap(errors.EInternal, "failed to clone registry", err)
	}
	return cp, restored, nil
}
