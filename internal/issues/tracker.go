package issues

import (
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/events"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/ids"
	"github.com/vouchcli/vouch/internal/registry"
	"github.com/vouchcli/vouch/internal/store"
)

// Tracker persists issues (one JSON document per issue) and links them to
// registry items through the store's atomic-update path.
type Tracker struct {
	Store *store.Store
	Now   func() time.Time
	NewID func() string // injectable for deterministic tests
	RunID string        // events destination; empty disables event emission
}

// NewTracker creates a Tracker with production id generation.
func NewTracker(st *store.Store) *Tracker {
	return &Tracker{
		Store: st,
		Now:   time.Now,
		NewID: ids.NewIssueID,
	}
}

// Create records a new issue and links it to the item it blocks.
// The diagnostics snapshot is supplied by the caller so the prompt flow can
// collect it before asking for a description.
func (t *Tracker) Create(command string, exitCode int, itemID, description, reporter string, diag Diagnostics) (*Issue, error) {
	if itemID != "" {
		// Linking to a nonexistent item would create an unblockable ghost.
		snap, err := t.Store.Snapshot()
		if err != nil {
			return nil, err
		}
		if _, _, ok := snap.FindItem(itemID); !ok {
			return nil, errors.New(errors.EItemNotFound, "item not found: "+itemID)
		}
	}

	issue := &Issue{
		SchemaVersion: IssueSchemaVersion,
		ID:            t.NewID(),
		CreatedAt:     t.Now().UTC().Format(time.RFC3339Nano),
		Reporter:      reporter,
		Command:       command,
		ExitCode:      exitCode,
		ItemID:        itemID,
		Description:   description,
		Diagnostics:   diag,
		Status:        StatusOpen,
	}

	if err := t.Store.FS.MkdirAll(t.Store.IssuesDir(), 0o755); err != nil {
		return nil, errors.Wrap(errors.EPersistFailed, "failed to create issues dir", err)
	}
	if err := fs.WriteJSONAtomic(t.Store.IssuePath(issue.ID), issue, 0o644); err != nil {
		return nil, errors.Wrap(errors.EPersistFailed, "failed to write issue", err)
	}

	if itemID != "" {
		_, err := t.Store.AtomicUpdate(func(r *registry.Registry) error {
			it, _, ok := r.FindItem(itemID)
			if !ok {
				return errors.New(errors.EItemNotFound, "item not found: "+itemID)
			}
			it.Issues = append(it.Issues, issue.ID)
			return nil
		})
		if err != nil {
			// Unlink the orphaned document rather than leave a half-created issue.
			_ = t.Store.FS.Remove(t.Store.IssuePath(issue.ID))
			return nil, err
		}
	}

	t.emit("issue_created", events.IssueCreatedData(issue.ID, itemID, command, exitCode))
	return issue, nil
}

// Transition moves an issue to a new status, enforcing the status graph.
// Resolving transitions (fixed, verified, wontfix, duplicate) require a
// non-empty remediation note.
func (t *Tracker) Transition(idRef string, to Status, note string) (*Issue, error) {
	issue, err := t.Get(idRef)
	if err != nil {
		return nil, err
	}

	if !CanTransition(issue.Status, to) {
		return nil, errors.NewWithDetails(errors.EInvalidTransition,
			fmt.Sprintf("issue %s cannot move from %s to %s", issue.ID, issue.Status, to),
			map[string]string{"issue": issue.ID, "status": string(issue.Status)})
	}
	if resolving[to] && strings.TrimSpace(note) == "" {
		return nil, errors.NewWithDetails(errors.ENoteRequired,
			fmt.Sprintf("transition to %s requires a remediation note", to),
			map[string]string{"issue": issue.ID})
	}

	issue.History = append(issue.History, TransitionRecord{
		At:   t.Now().UTC().Format(time.RFC3339Nano),
		From: issue.Status,
		To:   to,
		Note: note,
	})
	from := issue.Status
	issue.Status = to

	if err := fs.WriteJSONAtomic(t.Store.IssuePath(issue.ID), issue, 0o644); err != nil {
		return nil, errors.Wrap(errors.EPersistFailed, "failed to write issue", err)
	}
	t.emit("issue_transitioned", events.IssueTransitionedData(issue.ID, string(from), string(to)))
	return issue, nil
}

func (t *Tracker) emit(name string, data map[string]any) {
	if t.RunID == "" {
		return
	}
	e := events.Event{
		SchemaVersion: events.EventSchemaVersion,
		Timestamp:     t.Now().UTC().Format(time.RFC3339Nano),
		RunID:         t.RunID,
		Event:         name,
		Data:          data,
	}
	// Event loss never blocks the issue write itself.
	_ = events.AppendEvent(t.Store.EventsPath(t.RunID), e)
}

// Get loads an issue by id or unique id prefix.
func (t *Tracker) Get(idRef string) (*Issue, error) {
	known, err := t.listIDs()
	if err != nil {
		return nil, err
	}
	id, err := ids.Resolve(idRef, known)
	if err != nil {
		var amb *ids.ErrAmbiguous
		if stderrors.As(err, &amb) {
			return nil, errors.New(errors.EIssueRefAmbiguous, amb.Error())
		}
		return nil, errors.New(errors.EIssueNotFound, "issue not found: "+idRef)
	}
	return t.read(id)
}

// List loads all issues, sorted by creation time then id.
func (t *Tracker) List() ([]*Issue, error) {
	known, err := t.listIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*Issue, 0, len(known))
	for _, id := range known {
		issue, err := t.read(id)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// StatusIndex returns a lookup from issue id to status string, for the
// registry's blocked-by-issues derivation.
func (t *Tracker) StatusIndex() (func(issueID string) (string, bool), error) {
	all, err := t.List()
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(all))
	for _, issue := range all {
		index[issue.ID] = string(issue.Status)
	}
	return func(id string) (string, bool) {
		s, ok := index[id]
		return s, ok
	}, nil
}

func (t *Tracker) listIDs() ([]string, error) {
	entries, err := t.Store.FS.ReadDir(t.Store.IssuesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.EInternal, "failed to read issues dir", err)
	}
	var known []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			known = append(known, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(known)
	return known, nil
}

func (t *Tracker) read(id string) (*Issue, error) {
	data, err := t.Store.FS.ReadFile(t.Store.IssuePath(id))
	if err != nil {
		return nil, errors.Wrap(errors.EIssueNotFound, "failed to read issue "+id, err)
	}
	var issue Issue
	if err := fs.UnmarshalJSON(data, &issue); err != nil {
		return nil, errors.Wrap(errors.EInternal, "invalid issue document "+id, err)
	}
	if issue.SchemaVersion != IssueSchemaVersion {
		return nil, errors.New(errors.ESchemaUnsupported,
			fmt.Sprintf("issue %s has unsupported schema_version %q", id, issue.SchemaVersion))
	}
	return &issue, nil
}
