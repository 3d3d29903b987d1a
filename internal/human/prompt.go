package human

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/issues"
	"github.com/vouchcli/vouch/internal/registry"
)

// PromptOutcome is the result of one opportunistic prompt.
type PromptOutcome string

const (
	PromptVerified           PromptOutcome = "verified"
	PromptIssueCreated       PromptOutcome = "issue-created"
	PromptSessionSkipped     PromptOutcome = "session-skipped"
	PromptPermanentlySkipped PromptOutcome = "permanently-skipped"
	PromptTimedOut           PromptOutcome = "timed-out"
)

// Prompter asks a human to vouch for an item they plausibly just exercised.
type Prompter struct {
	Verifier *Verifier
	Tracker  *issues.Tracker
	In       io.Reader
	Out      io.Writer

	// Interactive gates prompting. Wire tty.IsInteractive here; tests
	// substitute a constant.
	Interactive func() bool
}

// Prompt asks one y/n/s/S question about itemID and acts on the answer:
//
//	y: record a human confirmation (channel opportunistic)
//	n: the claim does not hold; open an issue with a diagnostics snapshot
//	s: skip for this session, ask again next time
//	S: never ask about this item again
//
// An unanswered prompt times out silently: a question nobody saw is not
// evidence of anything. Items flagged never-ask resolve immediately.
func (p *Prompter) Prompt(ctx context.Context, itemID, identity string, timeout time.Duration) (PromptOutcome, error) {
	if p.Interactive != nil && !p.Interactive() {
		return "", errors.New(errors.EPromptNotTTY,
			"opportunistic prompts require an interactive terminal")
	}

	snap, err := p.Verifier.Store.Snapshot()
	if err != nil {
		return "", err
	}
	it, _, ok := snap.FindItem(itemID)
	if !ok {
		return "", errors.NewWithDetails(errors.EItemNotFound,
			fmt.Sprintf("no registry item %q", itemID),
			map[string]string{"item": itemID})
	}
	if it.Human.PromptOptOut {
		return PromptPermanentlySkipped, nil
	}

	fmt.Fprintf(p.Out, "Did %q hold just now? %s\n", itemID, it.Text)
	fmt.Fprintf(p.Out, "  [y] yes  [n] no, something's wrong  [s] skip  [S] never ask again\n> ")

	answer, err := p.readAnswer(ctx, timeout)
	if err != nil {
		return "", err
	}

	switch answer {
	case "y", "yes":
		if err := p.Verifier.markVerified(itemID, identity, registry.ChannelOpportunistic); err != nil {
			return "", err
		}
		return PromptVerified, nil
	case "n", "no":
		issue, err := p.Tracker.Create("prompt", 0, itemID,
			fmt.Sprintf("denied during opportunistic prompt: %s", it.Text),
			identity, issues.CollectDiagnostics(nil))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(p.Out, "opened issue %s\n", issue.ID)
		p.Verifier.Log.Info("prompt denied, issue opened",
			zap.String("item", itemID),
			zap.String("issue", issue.ID))
		return PromptIssueCreated, nil
	case "S":
		if err := p.setOptOut(itemID); err != nil {
			return "", err
		}
		return PromptPermanentlySkipped, nil
	case "":
		return PromptTimedOut, nil
	default: // "s" and anything unrecognized
		return PromptSessionSkipped, nil
	}
}

// readAnswer reads one line, bounded by timeout and ctx. An expired timer
// yields the empty answer, not an error.
func (p *Prompter) readAnswer(ctx context.Context, timeout time.Duration) (string, error) {
	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(p.In)
		if scanner.Scan() {
			lines <- scanner.Text()
			return
		}
		lines <- ""
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-lines:
		answer := strings.TrimSpace(line)
		if answer != "S" {
			answer = strings.ToLower(answer)
		}
		return answer, nil
	case <-timer.C:
		fmt.Fprintln(p.Out)
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Prompter) setOptOut(itemID string) error {
	_, err := p.Verifier.Store.AtomicUpdate(func(reg *registry.Registry) error {
		it, _, ok := reg.FindItem(itemID)
		if !ok {
			return errors.New(errors.EItemNotFound, fmt.Sprintf("item %q vanished", itemID))
		}
		it.Human.PromptOptOut = true
		return nil
	})
	return err
}
