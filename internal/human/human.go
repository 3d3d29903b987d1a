// Package human records human confirmations of registry items through three
// channels: explicit manual logging, auto-logging from observed command
// lines, and opportunistic prompting. Human state is evidence of a person
// vouching for behavior; it never substitutes for machine checks on
// automatable items.
package human

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/events"
	"github.com/vouchcli/vouch/internal/registry"
	"github.com/vouchcli/vouch/internal/store"
)

// Verifier writes human verification state.
type Verifier struct {
	Store *store.Store
	Log   *zap.Logger
	Now   func() time.Time
	RunID string // events destination; empty disables event emission

	// IssueStatus looks up an issue's current status. Nil means any linked
	// issue id blocks.
	IssueStatus func(issueID string) (string, bool)
}

// LogManual records an explicit human confirmation for one item.
//
// Any verified write is refused with E_BLOCKED_BY_ISSUE while the item has
// open issues; resolving them first is the whole point of the tracker.
func (v *Verifier) LogManual(itemID, identity string) error {
	return v.markVerified(itemID, identity, registry.ChannelManual)
}

func (v *Verifier) markVerified(itemID, identity string, channel registry.HumanChannel) error {
	_, err := v.Store.AtomicUpdate(func(reg *registry.Registry) error {
		it, _, ok := reg.FindItem(itemID)
		if !ok {
			return errors.NewWithDetails(errors.EItemNotFound,
				fmt.Sprintf("no registry item %q", itemID),
				map[string]string{"item": itemID})
		}
		if blocked, open := registry.HasOpenIssues(*it, v.statusOf()); blocked {
			return errors.NewWithDetails(errors.EBlockedByIssue,
				fmt.Sprintf("item %q has open issues; resolve them before vouching", itemID),
				map[string]string{"item": itemID, "issues": fmt.Sprintf("%v", open)})
		}
		it.Human = registry.HumanState{
			Verified:     true,
			VerifiedAt:   v.Now().UTC().Format(time.RFC3339Nano),
			Identity:     identity,
			Channel:      channel,
			PromptOptOut: it.Human.PromptOptOut,
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.Log.Info("human confirmation recorded",
		zap.String("item", itemID),
		zap.String("identity", identity),
		zap.String("channel", string(channel)))
	v.emit("human_verified", events.HumanVerifiedData(itemID, identity, string(channel)))
	return nil
}

func (v *Verifier) statusOf() func(string) (string, bool) {
	if v.IssueStatus != nil {
		return v.IssueStatus
	}
	return func(string) (string, bool) { return "", false }
}

func (v *Verifier) emit(name string, data map[string]any) {
	if v.RunID == "" {
		return
	}
	e := events.Event{
		SchemaVersion: events.EventSchemaVersion,
		Timestamp:     v.Now().UTC().Format(time.RFC3339Nano),
		RunID:         v.RunID,
		Event:         name,
		Data:          data,
	}
	if err := events.AppendEvent(v.Store.EventsPath(v.RunID), e); err != nil {
		v.Log.Warn("event append failed", zap.String("event", name), zap.Error(err))
	}
}
