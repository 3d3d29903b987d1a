package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/registry"
)

func TestVars_Expand(t *testing.T) {
	vars := Vars{Target: "staging", Item: "install.exit-zero", Feature: "install", DataDir: "/data"}

	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"all placeholders", "deploy {target} --feature {feature}", "deploy staging --feature install"},
		{"item and data dir", "check {item} --out {data_dir}/out", "check install.exit-zero --out /data/out"},
		{"no placeholders", "true", "true"},
		{"unknown placeholder kept", "run {mystery}", "run {mystery}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vars.Expand(tt.command); got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name         string
		command      string
		expectedExit int
		wantPassed   bool
		wantExit     int
	}{
		{"zero expected zero", "true", 0, true, 0},
		{"nonzero expected zero", "exit 3", 0, false, 3},
		{"nonzero expected nonzero", "exit 3", 3, true, 3},
		{"zero expected nonzero", "true", 3, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Executor{}
			res, err := e.Run(context.Background(), registry.Check{
				Command:      tt.command,
				ExpectedExit: tt.expectedExit,
			}, Vars{})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if res.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", res.Passed, tt.wantPassed)
			}
			if res.ExitCode == nil || *res.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %v, want %d", res.ExitCode, tt.wantExit)
			}
			if res.TimedOut {
				t.Error("TimedOut should be false")
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a sleeping process")
	}
	e := &Executor{}
	start := time.Now()
	res, err := e.Run(context.Background(), registry.Check{
		Command:      "sleep 10",
		ExpectedExit: 0,
		TimeoutMS:    200,
	}, Vars{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if res.Passed {
		t.Error("Passed = true for timed-out check")
	}
	if res.ExitCode != nil {
		t.Errorf("ExitCode = %d, want nil for timeout", *res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Errorf("timeout did not fire promptly: %v", elapsed)
	}
}

func TestRun_OutputTail(t *testing.T) {
	e := &Executor{TailLines: 5}
	res, err := e.Run(context.Background(), registry.Check{
		Command:      "for i in $(seq 1 20); do echo line-$i; done",
		ExpectedExit: 0,
	}, Vars{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.OutputTail) != 5 {
		t.Fatalf("len(OutputTail) = %d, want 5", len(res.OutputTail))
	}
	if res.OutputTail[0] != "line-16" || res.OutputTail[4] != "line-20" {
		t.Errorf("OutputTail = %v, want last 5 lines", res.OutputTail)
	}
}

func TestRun_CombinedOutput(t *testing.T) {
	e := &Executor{}
	res, err := e.Run(context.Background(), registry.Check{
		Command:      "echo to-stdout; echo to-stderr 1>&2",
		ExpectedExit: 0,
	}, Vars{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	joined := strings.Join(res.OutputTail, "\n")
	if !strings.Contains(joined, "to-stdout") || !strings.Contains(joined, "to-stderr") {
		t.Errorf("tail missing combined output: %v", res.OutputTail)
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	e := &Executor{WorkDir: "/nonexistent-dir-for-vouch-test"}
	_, err := e.Run(context.Background(), registry.Check{Command: "true"}, Vars{})
	if errors.GetCode(err) != errors.ESpawnFailed {
		t.Errorf("error code = %q, want E_SPAWN_FAILED", errors.GetCode(err))
	}
}

func TestRun_PlaceholderReachesCommand(t *testing.T) {
	e := &Executor{}
	res, err := e.Run(context.Background(), registry.Check{
		Command:      "echo target={target}",
		ExpectedExit: 0,
	}, Vars{Target: "prod-7"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.OutputTail) == 0 || res.OutputTail[0] != "target=prod-7" {
		t.Errorf("OutputTail = %v, want [target=prod-7]", res.OutputTail)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(3)
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(tb, "l%d\n", i)
	}
	got := tb.Lines()
	want := []string{"l4", "l5", "l6"}
	if len(got) != 3 || got[0] != want[0] || got[2] != want[2] {
		t.Errorf("Lines() = %v, want %v", got, want)
	}

	// Unterminated trailing line is included.
	fmt.Fprint(tb, "partial")
	got = tb.Lines()
	if got[len(got)-1] != "partial" {
		t.Errorf("Lines() = %v, want trailing partial line", got)
	}
}
