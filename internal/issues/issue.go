// Package issues implements the structured bug tracker linked to registry
// items. Open issues block an item from being marked verified; resolving
// the last one unblocks verification but never performs it.
package issues

import (
	"fmt"

	"github.com/vouchcli/vouch/internal/errors"
)

// IssueSchemaVersion is the schema version written to every issue document.
const IssueSchemaVersion = "1.0"

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusFixed         Status = "fixed"
	StatusVerified      Status = "verified"
	StatusWontfix       Status = "wontfix"
	StatusDuplicate     Status = "duplicate"
	StatusReopened      Status = "reopened"
)

// transitions is the allowed status graph. No arbitrary jumps.
var transitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusWontfix, StatusDuplicate},
	StatusInvestigating: {StatusFixed},
	StatusFixed:         {StatusVerified, StatusReopened},
	StatusReopened:      {StatusInvestigating},
}

// resolving are the target statuses that require a remediation note.
var resolving = map[Status]bool{
	StatusFixed:     true,
	StatusVerified:  true,
	StatusWontfix:   true,
	StatusDuplicate: true,
}

// Blocking reports whether an issue in this status blocks verification of
// its linked item.
func (s Status) Blocking() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusReopened:
		return true
	}
	return false
}

// ParseStatus validates a status string from CLI input.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusOpen, StatusInvestigating, StatusFixed, StatusVerified,
		StatusWontfix, StatusDuplicate, StatusReopened:
		return Status(s), nil
	}
	return "", errors.New(errors.EUsage, fmt.Sprintf("unknown issue status %q", s))
}

// CanTransition checks a proposed status change against the graph.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ArtifactCheck records existence and size of one artifact path at the
// time the diagnostics snapshot was taken.
type ArtifactCheck struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Diagnostics is the fixed diagnostic bundle collected automatically for
// every issue.
type Diagnostics struct {
	Hostname  string            `json:"hostname,omitempty"`
	OS        string            `json:"os"`
	Arch      string            `json:"arch"`
	Tools     map[string]bool   `json:"tools,omitempty"` // PATH presence of a small fixed tool set
	Env       map[string]string `json:"env,omitempty"`   // whitelisted environment facts
	Artifacts []ArtifactCheck   `json:"artifacts,omitempty"`
}

// TransitionRecord is one entry in an issue's status history.
type TransitionRecord struct {
	At   string `json:"at"` // RFC3339Nano UTC
	From Status `json:"from"`
	To   Status `json:"to"`
	Note string `json:"note,omitempty"`
}

// Issue is the persisted issue document (one file per issue).
type Issue struct {
	SchemaVersion string             `json:"schema_version"`
	ID            string             `json:"id"`
	CreatedAt     string             `json:"created_at"` // RFC3339Nano UTC
	Reporter      string             `json:"reporter"`
	Command       string             `json:"command"` // originating command
	ExitCode      int                `json:"exit_code"`
	ItemID        string             `json:"item_id"` // the item this issue blocks
	Description   string             `json:"description"`
	Diagnostics   Diagnostics        `json:"diagnostics"`
	Status        Status             `json:"status"`
	History       []TransitionRecord `json:"history,omitempty"`
}
