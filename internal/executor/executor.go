// Package executor runs a single check command with a timeout and an exit
// code expectation. It is command-agnostic: every check is the same
// {command, expected exit, timeout} value type, and the engine never
// branches on what the command is.
package executor

import (
	"context"
	stderrors "errors"
	"os"
	osexec "os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/registry"
)

// Defaults. A check with TimeoutMS == 0 gets DefaultTimeout.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultTailLines = 40

	// GracePeriod is the duration between SIGINT and SIGKILL when
	// terminating a timed-out or cancelled check process group.
	GracePeriod = 2 * time.Second
)

// Vars is the fixed placeholder set substituted into check commands before
// execution. Unknown placeholders are left intact.
type Vars struct {
	Target  string // {target}, the installation/site identifier under test
	Item    string // {item}
	Feature string // {feature}
	DataDir string // {data_dir}
}

// Expand substitutes the placeholder set into command.
func (v Vars) Expand(command string) string {
	return strings.NewReplacer(
		"{target}", v.Target,
		"{item}", v.Item,
		"{feature}", v.Feature,
		"{data_dir}", v.DataDir,
	).Replace(command)
}

// Result is the outcome of one check execution.
//
// A timeout is its own outcome, distinct from a non-matching exit code;
// both make Passed false. ExitCode is nil when the process produced none
// (timed out, killed by signal, never started).
type Result struct {
	Passed     bool     `json:"passed"`
	ExitCode   *int     `json:"exit_code"`
	TimedOut   bool     `json:"timed_out"`
	Cancelled  bool     `json:"cancelled"`
	DurationMS int64    `json:"duration_ms"`
	OutputTail []string `json:"output_tail,omitempty"`
	Command    string   `json:"command"` // after placeholder expansion
}

// Executor runs checks. The zero value is usable; fields override defaults.
type Executor struct {
	WorkDir   string   // cwd for check processes; empty means inherit
	Env       []string // full child environment; nil means inherit
	TailLines int      // bound on captured output lines; 0 means DefaultTailLines
}

// Run executes one check and reports its Result.
//
// A failing check is a Result, never an error. The only error case is an
// unrecoverable executor fault: the process could not be spawned.
func (e *Executor) Run(ctx context.Context, check registry.Check, vars Vars) (Result, error) {
	timeout := DefaultTimeout
	if check.TimeoutMS > 0 {
		timeout = time.Duration(check.TimeoutMS) * time.Millisecond
	}

	command := vars.Expand(check.Command)
	result := Result{Command: command}

	tailLines := e.TailLines
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	tail := newTailBuffer(tailLines)

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	cmd := osexec.CommandContext(timeoutCtx, "sh", "-lc", command)
	cmd.Dir = e.WorkDir
	cmd.Env = e.Env
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.Stdin = nil // no stdin: checks must not block on input

	// Own process group so timeout kills the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.DurationMS = time.Since(start).Milliseconds()
		return result, errors.WrapWithDetails(errors.ESpawnFailed,
			"failed to start check process", err,
			map[string]string{"command": command})
	}
	pgid := cmd.Process.Pid

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	var runErr error
	select {
	case runErr = <-waitDone:
		// Completed on its own.
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			result.Cancelled = true
		} else {
			result.TimedOut = true
		}
		killProcessGroup(pgid)
		runErr = <-waitDone
	}

	result.DurationMS = time.Since(start).Milliseconds()
	result.OutputTail = tail.Lines()

	if runErr == nil {
		code := 0
		result.ExitCode = &code
	} else {
		var exitErr *osexec.ExitError
		if stderrors.As(runErr, &exitErr) && exitErr.ProcessState != nil {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				// Killed by signal: no exit code.
			} else {
				code := exitErr.ExitCode()
				result.ExitCode = &code
			}
		}
	}

	result.Passed = !result.TimedOut && !result.Cancelled &&
		result.ExitCode != nil && *result.ExitCode == check.ExpectedExit

	return result, nil
}

// killProcessGroup sends SIGINT to the process group, waits GracePeriod,
// then sends SIGKILL.
func killProcessGroup(pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGINT)
	time.Sleep(GracePeriod)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// Environ returns the inherited environment plus vouch-specific variables,
// for callers that want checks to see the target context as env vars too.
func Environ(vars Vars) []string {
	env := os.Environ()
	if vars.Target != "" {
		env = append(env, "VOUCH_TARGET="+vars.Target)
	}
	if vars.Item != "" {
		env = append(env, "VOUCH_ITEM="+vars.Item)
	}
	if vars.DataDir != "" {
		env = append(env, "VOUCH_DATA_DIR="+vars.DataDir)
	}
	env = append(env, "VOUCH_NONINTERACTIVE=1")
	return env
}
