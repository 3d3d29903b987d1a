// Package events provides per-run event logging for vouch.
// Events are stored in append-only JSONL files; the findings log a
// checkpoint refers to is the same stream.
package events

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// EventSchemaVersion is the schema version stamped on every event line.
const EventSchemaVersion = "1.0"

// Event represents a single event in events.jsonl.
// This is the public contract for the events file format.
type Event struct {
	SchemaVersion string         `json:"schema_version"`
	Timestamp     string         `json:"timestamp"` // RFC3339
	RunID         string         `json:"run_id"`
	Event         string         `json:"event"`
	Data          map[string]any `json:"data,omitempty"`
}

// AppendEvent appends a single event to the events.jsonl file.
// The file is created lazily if it doesn't exist.
//
// Best-effort: errors are returned but callers should typically collect
// them into the run report and continue with the main operation.
func AppendEvent(path string, e Event) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// CheckFinishedData returns the data map for a check_finished event.
func CheckFinishedData(item string, depth string, command string, passed, timedOut bool, exitCode *int, durationMS int64) map[string]any {
	data := map[string]any{
		"item":        item,
		"depth":       depth,
		"command":     command,
		"passed":      passed,
		"timed_out":   timedOut,
		"duration_ms": durationMS,
	}
	if exitCode != nil {
		data["exit_code"] = *exitCode
	}
	return data
}

// ItemVerifiedData returns the data map for an item_verified event.
func ItemVerifiedData(item string, depth string, durationMS int64) map[string]any {
	return map[string]any{
		"item":        item,
		"depth":       depth,
		"duration_ms": durationMS,
	}
}

// ItemSkippedData returns the data map for an item_skipped event
// (configuration gap: no checks at the requested depth).
func ItemSkippedData(item string, depth string) map[string]any {
	return map[string]any{
		"item":  item,
		"depth": depth,
	}
}

// HumanVerifiedData returns the data map for a human_verified event.
func HumanVerifiedData(item, identity, channel string) map[string]any {
	return map[string]any{
		"item":     item,
		"identity": identity,
		"channel":  channel,
	}
}

// VerificationBlockedData returns the data map for a verification_blocked event.
func VerificationBlockedData(item string, openIssues []string) map[string]any {
	return map[string]any{
		"item":        item,
		"open_issues": openIssues,
	}
}

// IssueCreatedData returns the data map for an issue_created event.
func IssueCreatedData(issueID, item, command string, exitCode int) map[string]any {
	return map[string]any{
		"issue_id":  issueID,
		"item":      item,
		"command":   command,
		"exit_code": exitCode,
	}
}

// IssueTransitionedData returns the data map for an issue_transitioned event.
func IssueTransitionedData(issueID, from, to string) map[string]any {
	return map[string]any{
		"issue_id": issueID,
		"from":     from,
		"to":       to,
	}
}

// ScenarioStartedData returns the data map for a scenario_started event.
func ScenarioStartedData(scenarioID string, steps int) map[string]any {
	return map[string]any{
		"scenario_id": scenarioID,
		"steps":       steps,
	}
}

// ScenarioFinishedData returns the data map for a scenario_finished event.
func ScenarioFinishedData(scenarioID, state string, confidence float64, durationMS int64) map[string]any {
	return map[string]any{
		"scenario_id": scenarioID,
		"state":       state,
		"confidence":  confidence,
		"duration_ms": durationMS,
	}
}

// ScenarioSkippedData returns the data map for a scenario_skipped event
// (dependency unmet).
func ScenarioSkippedData(scenarioID string, unmet []string) map[string]any {
	return map[string]any{
		"scenario_id": scenarioID,
		"unmet":       unmet,
	}
}

// StepFinishedData returns the data map for a step_finished event.
func StepFinishedData(scenarioID string, step int, passed, retried bool) map[string]any {
	return map[string]any{
		"scenario_id": scenarioID,
		"step":        step,
		"passed":      passed,
		"retried":     retried,
	}
}

// BaselineCapturedData returns the data map for a baseline_captured event.
func BaselineCapturedData(scenarioID, name, value string) map[string]any {
	return map[string]any{
		"scenario_id": scenarioID,
		"name":        name,
		"value":       value,
	}
}

// CheckpointWrittenData returns the data map for a checkpoint_written event.
func CheckpointWrittenData(completed int, total int) map[string]any {
	return map[string]any{
		"completed": completed,
		"total":     total,
	}
}

// RegistryRestoredData returns the data map for a registry_restored event.
func RegistryRestoredData(backupPath string) map[string]any {
	return map[string]any{
		"backup_path": backupPath,
	}
}

// FindingData returns the data map for a free-form finding appended to the
// run's findings log.
func FindingData(scenarioID, text string) map[string]any {
	data := map[string]any{
		"text": text,
	}
	if scenarioID != "" {
		data["scenario_id"] = scenarioID
	}
	return data
}

// RunSummaryData returns the data map for the run_summary event every run
// ends with, even under partial failure.
func RunSummaryData(passed, failed, skipped, blocked, inconsistencies int) map[string]any {
	return map[string]any{
		"passed":          passed,
		"failed":          failed,
		"skipped":         skipped,
		"blocked":         blocked,
		"inconsistencies": inconsistencies,
	}
}
