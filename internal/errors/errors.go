// Package errors defines the stable error code system for vouch.
package errors

import (
	"errors"
	"fmt"
	"io"
)

// Code is a stable error code string.
type Code string

// Error codes. Stable public contract: scripts may match on these.
const (
	EUsage    Code = "E_USAGE"
	EInternal Code = "E_INTERNAL"

	// Registry store error codes
	EStoreCorrupt       Code = "E_STORE_CORRUPT"       // registry unreadable and backup restore failed
	ERegistryCorrupt    Code = "E_REGISTRY_CORRUPT"    // mutated registry failed validation; rolled back
	ERegistryRestored   Code = "E_REGISTRY_RESTORED"   // registry restored from backup; degraded but usable
	ERegistryShrunk     Code = "E_REGISTRY_SHRUNK"     // update would drop more items than allowed; rolled back
	ESchemaUnsupported  Code = "E_SCHEMA_UNSUPPORTED"  // registry schema_version is unknown
	EPersistFailed      Code = "E_PERSIST_FAILED"      // atomic write failed
	EItemNotFound       Code = "E_ITEM_NOT_FOUND"      // item id does not exist in the registry
	EFeatureNotFound    Code = "E_FEATURE_NOT_FOUND"   // feature id does not exist in the registry
	EItemRefAmbiguous   Code = "E_ITEM_REF_AMBIGUOUS"  // id prefix matches >1 item
	ESourceUnfingerable Code = "E_SOURCE_UNFINGERABLE" // referenced source file cannot be fingerprinted

	// Verification error codes
	EConfigGap      Code = "E_CONFIG_GAP"       // no checks declared at the requested depth
	EClassConflict  Code = "E_CLASS_CONFLICT"   // non-automatable item with machine-verified state
	EBlockedByIssue Code = "E_BLOCKED_BY_ISSUE" // verification refused while linked issues are open
	ESpawnFailed    Code = "E_SPAWN_FAILED"     // check process could not be started
	EPromptNotTTY   Code = "E_PROMPT_NOT_TTY"   // opportunistic prompt requires an interactive terminal

	// Issue tracker error codes
	EIssueNotFound     Code = "E_ISSUE_NOT_FOUND"     // issue id does not exist
	EInvalidTransition Code = "E_INVALID_TRANSITION"  // status change not allowed by the issue graph
	ENoteRequired      Code = "E_NOTE_REQUIRED"       // resolving transition without a remediation note
	EIssueRefAmbiguous Code = "E_ISSUE_REF_AMBIGUOUS" // id prefix matches >1 issue

	// Scenario orchestration error codes
	EScenarioNotFound Code = "E_SCENARIO_NOT_FOUND" // scenario id does not exist
	EDepUnmet         Code = "E_DEP_UNMET"          // dependency scenario has not passed in this checkpoint
	EScenarioCycle    Code = "E_SCENARIO_CYCLE"     // scenario dependencies form a cycle
	EBaselineMissing  Code = "E_BASELINE_MISSING"   // compare step references an uncaptured baseline
	ECheckpointBroken Code = "E_CHECKPOINT_BROKEN"  // checkpoint.json unreadable or wrong schema

	// Configuration error codes
	ENoConfig        Code = "E_NO_CONFIG"        // vouch.yaml not found
	EInvalidConfig   Code = "E_INVALID_CONFIG"   // vouch.yaml failed validation
	EInvalidTrigger  Code = "E_INVALID_TRIGGER"  // triggers.yaml failed validation
	EInvalidScenario Code = "E_INVALID_SCENARIO" // scenarios.yaml failed validation

	// Statistics error codes
	EStatsInconsistent Code = "E_STATS_INCONSISTENT" // registry violates the automatability invariant
)

// Process exit codes. Stable public contract.
const (
	ExitOK       = 0 // all checks/scenarios passed
	ExitFailures = 1 // one or more check or scenario failures
	ExitConfig   = 2 // configuration error (class conflict, unknown schema, usage, unmet dependency)
	ExitRestored = 3 // registry corruption detected and auto-restored
)

// configCodes are the codes that exit with ExitConfig.
var configCodes = map[Code]bool{
	EUsage:             true,
	ESchemaUnsupported: true,
	EClassConflict:     true,
	EConfigGap:         true,
	EDepUnmet:          true,
	EScenarioCycle:     true,
	ENoConfig:          true,
	EInvalidConfig:     true,
	EInvalidTrigger:    true,
	EInvalidScenario:   true,
	EInvalidTransition: true,
	ENoteRequired:      true,
	EStatsInconsistent: true,
}

// VouchError is the standard error type for vouch errors.
type VouchError struct {
	Code    Code
	Msg     string
	Cause   error
	Details map[string]string // optional structured context
}

// Error returns the stable error format: "CODE: message".
func (e *VouchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *VouchError) Unwrap() error {
	return e.Cause
}

// ExitCodeError wraps an error with an explicit process exit code.
type ExitCodeError struct {
	Err  error
	Code int
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

func (e *ExitCodeError) ExitCode() int {
	return e.Code
}

// WithExitCode wraps err with a specific process exit code.
func WithExitCode(err error, code int) error {
	return &ExitCodeError{Err: err, Code: code}
}

// Silent returns an error carrying only an exit code. Print and Format
// render nothing for it; callers use it after they have already reported
// the failure (e.g. a run summary).
func Silent(code int) error {
	return &ExitCodeError{Code: code}
}

// IsSilent reports whether err is a bare exit-code error with no message.
func IsSilent(err error) bool {
	var ec *ExitCodeError
	return errors.As(err, &ec) && ec.Err == nil
}

// New creates a new VouchError with the given code and message.
func New(code Code, msg string) error {
	return &VouchError{Code: code, Msg: msg}
}

// NewWithDetails creates a new VouchError with code, message, and details.
// Details map is defensively copied (nil if empty).
func NewWithDetails(code Code, msg string, details map[string]string) error {
	return &VouchError{Code: code, Msg: msg, Details: copyDetails(details)}
}

// Wrap creates a new VouchError wrapping an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &VouchError{Code: code, Msg: msg, Cause: err}
}

// WrapWithDetails creates a new VouchError wrapping an underlying error with details.
// Details map is defensively copied (nil if empty).
func WrapWithDetails(code Code, msg string, err error, details map[string]string) error {
	return &VouchError{Code: code, Msg: msg, Cause: err, Details: copyDetails(details)}
}

// GetCode extracts the error code from an error, or empty string if not a VouchError.
func GetCode(err error) Code {
	var ve *VouchError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// AsVouchError returns (*VouchError, true) if err is or wraps a VouchError.
func AsVouchError(err error) (*VouchError, bool) {
	var ve *VouchError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// copyDetails returns a defensive copy of the details map, or nil if empty/nil.
func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	cp := make(map[string]string, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return cp
}

// ExitCode returns the appropriate process exit code for an error.
//
// Mapping (stable contract):
//   - nil => 0
//   - explicit ExitCodeError => its code
//   - E_REGISTRY_RESTORED => 3
//   - configuration-class codes => 2
//   - everything else => 1
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	code := GetCode(err)
	if code == ERegistryRestored {
		return ExitRestored
	}
	if configCodes[code] {
		return ExitConfig
	}
	return ExitFailures
}

// Print writes the error to w in the stable stderr format:
//
//	error_code: <CODE>
//	<message>
func Print(w io.Writer, err error) {
	if err == nil || IsSilent(err) {
		return
	}
	var ve *VouchError
	if errors.As(err, &ve) {
		_, _ = fmt.Fprintf(w, "error_code: %s\n", ve.Code)
		_, _ = fmt.Fprintln(w, ve.Msg)
	} else {
		// Fallback for non-VouchError errors (should not happen in practice)
		_, _ = fmt.Fprintln(w, err.Error())
	}
}
