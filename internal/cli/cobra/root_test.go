package cobra

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCmdHasAllSubcommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{
		"init", "run", "scenario", "badges", "stats",
		"issues", "log", "observe", "prompt", "version",
	}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "vouch ") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestScenarioRunRejectsConflictingFlags(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"scenario", "run", "--id", "a", "--from", "b"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected usage error for --id with --from")
	}
}
