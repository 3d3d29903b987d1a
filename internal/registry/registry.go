// Package registry defines the verification registry data model: features,
// items, machine/human verification state, and the derived combined status.
//
// The registry document is the single source of truth. Aggregates (counts,
// percentages, badges) are never stored here; they are recomputed from items
// by the stats package on every run.
package registry

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the only registry schema this engine operates on.
// Any other value is refused rather than guessed at.
const SchemaVersion = "1.0"

// Depth is the thoroughness level for machine checks.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthStandard Depth = "standard"
	DepthThorough Depth = "thorough"
	DepthParanoid Depth = "paranoid"
)

// Depths returns all depths in escalating order.
func Depths() []Depth {
	return []Depth{DepthBasic, DepthStandard, DepthThorough, DepthParanoid}
}

// ParseDepth validates a depth string from CLI or config input.
func ParseDepth(s string) (Depth, error) {
	switch Depth(s) {
	case DepthBasic, DepthStandard, DepthThorough, DepthParanoid:
		return Depth(s), nil
	}
	return "", fmt.Errorf("unknown depth %q (want basic|standard|thorough|paranoid)", s)
}

// Automatability classifies whether an item can legally be machine-verified.
type Automatability string

const (
	ClassAutomatable          Automatability = "automatable"
	ClassEnvironmentDependent Automatability = "environment_dependent"
	ClassManualOnly           Automatability = "manual_only"
)

// HumanChannel identifies how a human confirmation was recorded.
type HumanChannel string

const (
	ChannelManual        HumanChannel = "manual"
	ChannelAutoLogged    HumanChannel = "auto-logged"
	ChannelOpportunistic HumanChannel = "opportunistic"
)

// Status is the derived combined verification status of an item.
// It is never stored; see Item.Status.
type Status string

const (
	StatusUntested      Status = "untested"
	StatusMachineOnly   Status = "machine-only"
	StatusFullyVerified Status = "fully-verified"
	StatusInvalidated   Status = "invalidated"
)

// Check is a single machine check: one command, one expected exit code,
// one timeout. The executor is command-agnostic; there is no per-command
// dispatch anywhere in the engine.
type Check struct {
	Command      string `json:"command"`
	ExpectedExit int    `json:"expected_exit"`
	TimeoutMS    int64  `json:"timeout_ms,omitempty"` // 0 means executor default
}

// MachineCheckState is the persisted machine verification state of an item.
//
// Invariant: Verified may only be true when the owning item's class is
// automatable. The machine verifier refuses to write a violating state and
// the stats aggregator fails closed if it ever observes one.
type MachineCheckState struct {
	Verified   bool     `json:"verified"`
	Depth      Depth    `json:"depth,omitempty"`       // deepest depth exercised
	VerifiedAt string   `json:"verified_at,omitempty"` // RFC3339Nano UTC
	DurationMS int64    `json:"duration_ms,omitempty"`
	OutputTail []string `json:"output_tail,omitempty"` // truncated combined output of the last run
}

// HumanState is the persisted human verification state of an item.
type HumanState struct {
	Verified     bool         `json:"verified"`
	VerifiedAt   string       `json:"verified_at,omitempty"` // RFC3339Nano UTC
	Identity     string       `json:"identity,omitempty"`
	Channel      HumanChannel `json:"channel,omitempty"`
	PromptOptOut bool         `json:"prompt_opt_out,omitempty"` // permanently-skipped via opportunistic prompt
}

// Item is a single verifiable claim about one command's behavior.
type Item struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Class       Automatability    `json:"class"`
	ClassReason string            `json:"class_reason,omitempty"` // required when class != automatable
	Checks      map[Depth][]Check `json:"checks,omitempty"`
	Machine     MachineCheckState `json:"machine"`
	Human       HumanState        `json:"human"`
	Issues      []string          `json:"issues,omitempty"` // issue ids, open and closed

	// FeatureID is derived at load time from the owning feature.
	FeatureID string `json:"-"`
}

// SourceRef points at the source region whose change invalidates a feature's
// items. A zero StartLine means the whole file is fingerprinted.
type SourceRef struct {
	Path        string `json:"path"`
	StartLine   int    `json:"start_line,omitempty"` // 1-based, inclusive
	EndLine     int    `json:"end_line,omitempty"`   // inclusive
	Fingerprint string `json:"fingerprint"`          // sha256 hex of the referenced content
}

// Feature is a named grouping of items.
type Feature struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Sources []SourceRef `json:"sources,omitempty"`
	Items   []Item      `json:"items"`
}

// Registry is the root of the persisted registry document.
type Registry struct {
	SchemaVersion string    `json:"schema_version"`
	UpdatedAt     string    `json:"updated_at,omitempty"` // RFC3339Nano UTC, set by the store on commit
	Features      []Feature `json:"features"`
}

// Normalize fills derived fields after load: each item learns its owning
// feature id. Must be called after every unmarshal.
func (r *Registry) Normalize() {
	for fi := range r.Features {
		f := &r.Features[fi]
		for ii := range f.Items {
			f.Items[ii].FeatureID = f.ID
		}
	}
}

// ItemCount returns the total number of items across all features.
func (r *Registry) ItemCount() int {
	n := 0
	for _, f := range r.Features {
		n += len(f.Items)
	}
	return n
}

// FindItem returns the item with the given id and its owning feature.
func (r *Registry) FindItem(id string) (*Item, *Feature, bool) {
	for fi := range r.Features {
		f := &r.Features[fi]
		for ii := range f.Items {
			if f.Items[ii].ID == id {
				return &f.Items[ii], f, true
			}
		}
	}
	return nil, nil, false
}

// FindFeature returns the feature with the given id.
func (r *Registry) FindFeature(id string) (*Feature, bool) {
	for fi := range r.Features {
		if r.Features[fi].ID == id {
			return &r.Features[fi], true
		}
	}
	return nil, false
}


// Clone returns a deep copy via JSON round-trip. The store hands clones to
// mutators and readers so the committed snapshot is never aliased.
func (r *Registry) Clone() (*Registry, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("clone registry: %w", err)
	}
	var cp Registry
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("clone registry: %w", err)
	}
	cp.Normalize()
	return &cp, nil
}

// OpenIssueStatuses are the issue statuses that block verification.
// Mirrored here so the registry can answer "is this item blocked" without
// importing the issues package.
var OpenIssueStatuses = map[string]bool{
	"open":          true,
	"investigating": true,
	"reopened":      true,
}
