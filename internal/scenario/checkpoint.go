package scenario

import (
	"os"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/store"
)

// CheckpointSchemaVersion is the schema version of checkpoint.json.
const CheckpointSchemaVersion = "1.0"

// Scenario run states.
const (
	StatePending = "pending"
	StateRunning = "running"
	StatePassed  = "passed"
	StateFailed  = "failed"
	StateSkipped = "skipped" // dependency unmet
)

// Record is the durable completion record of one scenario within a run.
type Record struct {
	State      string   `json:"state"`
	Confidence float64  `json:"confidence"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Step       int      `json:"step,omitempty"` // in-progress step pointer, informational
	UnmetDeps  []string `json:"unmet_deps,omitempty"`
	FinishedAt string   `json:"finished_at,omitempty"` // RFC3339Nano UTC
}

// Checkpoint is the durable resume point for a scenario run. It is written
// after every scenario completion; that write is the only durability
// boundary, so resumed runs never replay partial scenarios.
type Checkpoint struct {
	SchemaVersion string            `json:"schema_version"`
	RunID         string            `json:"run_id"`
	StartedAt     string            `json:"started_at"`
	UpdatedAt     string            `json:"updated_at"`
	Scenarios     map[string]Record `json:"scenarios"`
	Baselines     map[string]string `json:"baselines,omitempty"`

	// Preserved lists external resources flagged preserve by completed
	// scenarios. A resume reuses them instead of recreating.
	Preserved []string `json:"preserved,omitempty"`
}

// NewCheckpoint creates a fresh checkpoint with every scenario pending.
func NewCheckpoint(runID, now string, ids []string) *Checkpoint {
	cp := &Checkpoint{
		SchemaVersion: CheckpointSchemaVersion,
		RunID:         runID,
		StartedAt:     now,
		UpdatedAt:     now,
		Scenarios:     make(map[string]Record, len(ids)),
		Baselines:     map[string]string{},
	}
	for _, id := range ids {
		cp.Scenarios[id] = Record{State: StatePending}
	}
	return cp
}

// Passed reports whether the scenario has passed in this checkpoint.
func (c *Checkpoint) Passed(id string) bool {
	return c.Scenarios[id].State == StatePassed
}

// LoadCheckpoint reads checkpoint.json. A missing file yields (nil, nil);
// an unreadable or unparseable one is E_CHECKPOINT_BROKEN, because silently
// starting over would discard a run the caller asked to resume.
func LoadCheckpoint(filesystem fs.FS, st *store.Store) (*Checkpoint, error) {
	data, err := filesystem.ReadFile(st.CheckpointPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ECheckpointBroken, "reading checkpoint", err)
	}
	var cp Checkpoint
	if err := fs.UnmarshalJSON(data, &cp); err != nil {
		return nil, errors.Wrap(errors.ECheckpointBroken, "parsing checkpoint", err)
	}
	if cp.SchemaVersion != CheckpointSchemaVersion {
		return nil, errors.New(errors.ECheckpointBroken,
			"unsupported checkpoint schema version "+cp.SchemaVersion)
	}
	if cp.Baselines == nil {
		cp.Baselines = map[string]string{}
	}
	if cp.Scenarios == nil {
		cp.Scenarios = map[string]Record{}
	}
	return &cp, nil
}

// SaveCheckpoint writes the checkpoint atomically.
func SaveCheckpoint(st *store.Store, cp *Checkpoint) error {
	return fs.WriteJSONAtomic(st.CheckpointPath(), cp, 0o644)
}

// RemoveCheckpoint deletes checkpoint.json after a fully passed run.
func RemoveCheckpoint(filesystem fs.FS, st *store.Store) error {
	err := filesystem.Remove(st.CheckpointPath())
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
