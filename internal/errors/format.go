// Package errors provides error formatting for vouch CLI output.
package errors

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// PrintOptions controls error output formatting.
type PrintOptions struct {
	// Verbose enables detailed error output with more context keys.
	Verbose bool
}

// Context key whitelist (default mode, in display order).
var defaultContextKeys = []string{
	"op",
	"item",
	"feature",
	"depth",
	"scenario",
	"step",
	"issue",
	"issues",
	"command",
	"exit_code",
	"duration",
	"registry",
	"checkpoint",
}

// Additional context keys for verbose mode.
var verboseContextKeys = []string{
	"op",
	"item",
	"feature",
	"depth",
	"scenario",
	"step",
	"issue",
	"issues",
	"command",
	"exit_code",
	"duration",
	"duration_ms",
	"registry",
	"checkpoint",
	"timed_out",
	"identity",
	"channel",
	"status",
	"baseline",
	"tolerance",
	"hint",
}

// maxValueLen bounds single-line context values.
const maxValueLen = 256

// Format formats an error for display without I/O.
// This is a pure function; it never reads files.
func Format(err error, opts PrintOptions) string {
	if err == nil {
		return ""
	}
	if IsSilent(err) {
		return ""
	}

	var sb strings.Builder

	ve, isVouch := AsVouchError(err)
	if !isVouch {
		sb.WriteString(err.Error())
		sb.WriteString("\n")
		return sb.String()
	}

	// Line 1: error_code
	sb.WriteString(fmt.Sprintf("error_code: %s\n", ve.Code))

	// Line 2: message
	sb.WriteString(ve.Msg)
	sb.WriteString("\n")

	// Context block: whitelisted keys in fixed order, then unknown keys
	// alphabetically in verbose mode.
	keys := defaultContextKeys
	if opts.Verbose {
		keys = verboseContextKeys
	}
	shown := map[string]bool{}
	for _, key := range keys {
		if val, ok := ve.Details[key]; ok && val != "" {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", key, truncateValue(val)))
			shown[key] = true
		}
	}
	if opts.Verbose {
		var extra []string
		for key := range ve.Details {
			if !shown[key] {
				extra = append(extra, key)
			}
		}
		sort.Strings(extra)
		for _, key := range extra {
			if val := ve.Details[key]; val != "" {
				sb.WriteString(fmt.Sprintf("  %s: %s\n", key, truncateValue(val)))
			}
		}
	}

	// Cause chain only in verbose mode.
	if opts.Verbose && ve.Cause != nil {
		sb.WriteString(fmt.Sprintf("  cause: %s\n", truncateValue(ve.Cause.Error())))
	}

	return sb.String()
}

// PrintWithOptions formats err and writes it to w.
func PrintWithOptions(w io.Writer, err error, opts PrintOptions) {
	if err == nil {
		return
	}
	_, _ = io.WriteString(w, Format(err, opts))
}

func truncateValue(s string) string {
	if len(s) <= maxValueLen {
		return s
	}
	return s[:maxValueLen] + "..."
}
