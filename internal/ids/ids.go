// Package ids provides identifier generation and exact-match/unique-prefix
// resolution for issues and runs.
package ids

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a fresh engine-run identifier.
// Format: "run-" + 12 hex chars of a random UUID, short enough to type.
func NewRunID() string {
	return "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewIssueID returns a fresh issue identifier.
// Format: 12 hex chars of a random UUID.
func NewIssueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ErrNotFound indicates no matching id (exact or prefix).
type ErrNotFound struct {
	Input string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %q", e.Input)
}

// ErrAmbiguous indicates a prefix matched multiple ids.
type ErrAmbiguous struct {
	Input      string
	Candidates []string // sorted ascending
}

func (e *ErrAmbiguous) Error() string {
	return fmt.Sprintf("ambiguous id %q matches: %s", e.Input, strings.Join(e.Candidates, ", "))
}

// Resolve resolves an input identifier against a set of known ids.
//
// Resolution rules:
//  1. Exact match wins.
//  2. Otherwise, treat input as a prefix:
//     - 0 matches: not found
//     - 1 match: resolve
//     - >1 matches: ambiguous (candidates sorted ascending)
//  3. Input normalization: trim whitespace; empty after trim = not found.
func Resolve(input string, known []string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", &ErrNotFound{Input: ""}
	}

	for _, id := range known {
		if id == input {
			return id, nil
		}
	}

	var matches []string
	for _, id := range known {
		if strings.HasPrefix(id, input) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", &ErrNotFound{Input: input}
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", &ErrAmbiguous{Input: input, Candidates: matches}
	}
}
