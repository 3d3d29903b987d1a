package issues

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/events"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/registry"
	"github.com/vouchcli/vouch/internal/store"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func testTracker(t *testing.T) *Tracker {
	t.Helper()
	st := store.NewStore(fs.NewRealFS(), t.TempDir(), fixedNow)
	reg := &registry.Registry{
		SchemaVersion: registry.SchemaVersion,
		Features: []registry.Feature{
			{
				ID:   "backup",
				Name: "Backup command",
				Items: []registry.Item{
					{ID: "backup.creates-archive", Text: "backup produces an archive", Class: registry.ClassAutomatable},
				},
			},
		},
	}
	require.NoError(t, st.FS.MkdirAll(st.DataDir, 0o755))
	require.NoError(t, fs.WriteJSONAtomic(st.RegistryPath(), reg, 0o644))
	_, _, err := st.Load()
	require.NoError(t, err)

	seq := 0
	return &Tracker{
		Store: st,
		Now:   fixedNow,
		NewID: func() string {
			seq++
			return []string{"aaa111aaa111", "bbb222bbb222", "ccc333ccc333"}[seq-1]
		},
	}
}

func TestCreate_LinksItem(t *testing.T) {
	tr := testTracker(t)

	issue, err := tr.Create("site backup prod", 2, "backup.creates-archive",
		"backup exited 2 on fresh install", "casey", Diagnostics{OS: "linux", Arch: "amd64"})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, issue.Status)
	assert.Equal(t, "aaa111aaa111", issue.ID)

	// The registry item must now reference the issue.
	snap, err := tr.Store.Snapshot()
	require.NoError(t, err)
	it, _, ok := snap.FindItem("backup.creates-archive")
	require.True(t, ok)
	assert.Contains(t, it.Issues, issue.ID)

	// And the issue document must round-trip.
	got, err := tr.Get(issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "casey", got.Reporter)
	assert.Equal(t, 2, got.ExitCode)
}

func TestCreate_UnknownItemRefused(t *testing.T) {
	tr := testTracker(t)
	_, err := tr.Create("cmd", 1, "nope.missing", "d", "casey", Diagnostics{})
	assert.Equal(t, errors.EItemNotFound, errors.GetCode(err))
}

func TestTransition_Graph(t *testing.T) {
	tests := []struct {
		name     string
		path     []Status
		note     string
		wantCode errors.Code
	}{
		{"open to investigating", []Status{StatusInvestigating}, "", ""},
		{"full happy path", []Status{StatusInvestigating, StatusFixed, StatusVerified}, "patched in r123", ""},
		{"reopen loop", []Status{StatusInvestigating, StatusFixed, StatusReopened, StatusInvestigating}, "regressed", ""},
		{"open straight to fixed", []Status{StatusFixed}, "n", errors.EInvalidTransition},
		{"open straight to verified", []Status{StatusVerified}, "n", errors.EInvalidTransition},
		{"fixed without note", []Status{StatusInvestigating, StatusFixed}, "", errors.ENoteRequired},
		{"wontfix with note ok", []Status{StatusWontfix}, "by design of the installer", ""},
		{"duplicate with note ok", []Status{StatusDuplicate}, "dup of aaa111", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := testTracker(t)
			issue, err := tr.Create("cmd", 1, "backup.creates-archive", "d", "casey", Diagnostics{})
			require.NoError(t, err)

			var lastErr error
			for _, to := range tt.path {
				note := ""
				if resolving[to] {
					note = tt.note
				}
				_, lastErr = tr.Transition(issue.ID, to, note)
				if lastErr != nil {
					break
				}
			}
			if tt.wantCode == "" {
				assert.NoError(t, lastErr)
			} else {
				assert.Equal(t, tt.wantCode, errors.GetCode(lastErr))
			}
		})
	}
}

func TestTransition_RecordsHistory(t *testing.T) {
	tr := testTracker(t)
	issue, err := tr.Create("cmd", 1, "backup.creates-archive", "d", "casey", Diagnostics{})
	require.NoError(t, err)

	_, err = tr.Transition(issue.ID, StatusInvestigating, "")
	require.NoError(t, err)
	got, err := tr.Transition(issue.ID, StatusFixed, "tightened the tar flags")
	require.NoError(t, err)

	require.Len(t, got.History, 2)
	assert.Equal(t, StatusInvestigating, got.History[0].To)
	assert.Equal(t, StatusFixed, got.History[1].To)
	assert.Equal(t, "tightened the tar flags", got.History[1].Note)
}

func TestGet_PrefixResolution(t *testing.T) {
	tr := testTracker(t)
	_, err := tr.Create("cmd", 1, "backup.creates-archive", "first", "casey", Diagnostics{})
	require.NoError(t, err)
	_, err = tr.Create("cmd", 1, "backup.creates-archive", "second", "casey", Diagnostics{})
	require.NoError(t, err)

	got, err := tr.Get("aaa")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description)

	_, err = tr.Get("zzz")
	assert.Equal(t, errors.EIssueNotFound, errors.GetCode(err))
}

func TestStatusIndex_BlockingDerivation(t *testing.T) {
	tr := testTracker(t)
	issue, err := tr.Create("cmd", 1, "backup.creates-archive", "d", "casey", Diagnostics{})
	require.NoError(t, err)

	statusOf, err := tr.StatusIndex()
	require.NoError(t, err)

	snap, err := tr.Store.Snapshot()
	require.NoError(t, err)
	it, _, _ := snap.FindItem("backup.creates-archive")

	blocked, open := registry.HasOpenIssues(*it, statusOf)
	assert.True(t, blocked)
	assert.Equal(t, []string{issue.ID}, open)

	// Resolve it all the way; blocking must stop at fixed.
	_, err = tr.Transition(issue.ID, StatusInvestigating, "")
	require.NoError(t, err)
	_, err = tr.Transition(issue.ID, StatusFixed, "remediated")
	require.NoError(t, err)

	statusOf, err = tr.StatusIndex()
	require.NoError(t, err)
	blocked, _ = registry.HasOpenIssues(*it, statusOf)
	assert.False(t, blocked)
}

func TestTracker_EmitsIssueEvents(t *testing.T) {
	tr := testTracker(t)
	tr.RunID = "run-events"

	issue, err := tr.Create("site backup prod", 2, "backup.creates-archive",
		"backup exited 2", "casey", Diagnostics{})
	require.NoError(t, err)
	_, err = tr.Transition(issue.ID, StatusInvestigating, "")
	require.NoError(t, err)

	data, err := tr.Store.FS.ReadFile(tr.Store.EventsPath("run-events"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var created, transitioned events.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &created))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &transitioned))

	assert.Equal(t, "issue_created", created.Event)
	assert.Equal(t, "run-events", created.RunID)
	assert.Equal(t, issue.ID, created.Data["issue_id"])
	assert.Equal(t, "backup.creates-archive", created.Data["item"])

	assert.Equal(t, "issue_transitioned", transitioned.Event)
	assert.Equal(t, string(StatusOpen), transitioned.Data["from"])
	assert.Equal(t, string(StatusInvestigating), transitioned.Data["to"])
}

func TestTracker_NoRunIDNoEvents(t *testing.T) {
	tr := testTracker(t)
	_, err := tr.Create("site backup prod", 2, "backup.creates-archive",
		"backup exited 2", "casey", Diagnostics{})
	require.NoError(t, err)

	entries, err := tr.Store.FS.ReadDir(tr.Store.DataDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "runs", e.Name())
	}
}

func TestCollectDiagnostics(t *testing.T) {
	d := CollectDiagnostics([]string{"/definitely/missing/path"})
	assert.NotEmpty(t, d.OS)
	assert.NotEmpty(t, d.Arch)
	require.Len(t, d.Artifacts, 1)
	assert.False(t, d.Artifacts[0].Exists)
	// sh is present on any platform these tests run on
	assert.True(t, d.Tools["sh"])
}
