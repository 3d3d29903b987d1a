package human

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/registry"
)

// Trigger maps an observed command-line pattern to the items it implies a
// human just exercised.
type Trigger struct {
	Pattern string   `yaml:"pattern"`
	ItemIDs []string `yaml:"item_ids"`

	re *regexp.Regexp
}

// TriggerTable is the validated, compiled contents of triggers.yaml.
type TriggerTable struct {
	Triggers []Trigger `yaml:"triggers"`
}

// LoadTriggers reads and validates a triggers.yaml file. Every pattern must
// compile and every referenced item must exist in the registry: a typo in a
// trigger silently logging nothing is exactly the failure mode this table
// exists to avoid.
func LoadTriggers(filesystem fs.FS, path string, reg *registry.Registry) (*TriggerTable, error) {
	data, err := filesystem.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.EInvalidTrigger, fmt.Sprintf("reading %s", path), err)
	}
	var tbl TriggerTable
	if err := yaml.Unmarshal(data, &tbl); err != nil {
		return nil, errors.Wrap(errors.EInvalidTrigger, fmt.Sprintf("parsing %s", path), err)
	}
	for i := range tbl.Triggers {
		tr := &tbl.Triggers[i]
		if tr.Pattern == "" {
			return nil, errors.New(errors.EInvalidTrigger,
				fmt.Sprintf("trigger %d: empty pattern", i))
		}
		re, err := regexp.Compile(tr.Pattern)
		if err != nil {
			return nil, errors.Wrap(errors.EInvalidTrigger,
				fmt.Sprintf("trigger %d: pattern %q", i, tr.Pattern), err)
		}
		tr.re = re
		if len(tr.ItemIDs) == 0 {
			return nil, errors.New(errors.EInvalidTrigger,
				fmt.Sprintf("trigger %d: no item_ids", i))
		}
		for _, id := range tr.ItemIDs {
			if _, _, ok := reg.FindItem(id); !ok {
				return nil, errors.NewWithDetails(errors.EInvalidTrigger,
					fmt.Sprintf("trigger %d references unknown item %q", i, id),
					map[string]string{"item": id})
			}
		}
	}
	return &tbl, nil
}

// Match returns the deduplicated item ids of every trigger whose pattern
// matches the command line, in table order.
func (t *TriggerTable) Match(commandLine string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, tr := range t.Triggers {
		if !tr.re.MatchString(commandLine) {
			continue
		}
		for _, id := range tr.ItemIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// AutoLog matches an observed command line against the trigger table and
// records auto-logged confirmations for the matched items. Without consent
// the match is computed but nothing is written; observation must be opt-in.
//
// Items blocked by open issues are reported, not written. One blocked item
// does not stop the others.
func (v *Verifier) AutoLog(tbl *TriggerTable, commandLine, identity string, consent bool) (logged, blocked []string, err error) {
	matched := tbl.Match(commandLine)
	if len(matched) == 0 {
		return nil, nil, nil
	}
	if !consent {
		v.Log.Debug("auto-log match without consent, not recording",
			zap.String("command", commandLine),
			zap.Strings("items", matched))
		return nil, nil, nil
	}
	for _, id := range matched {
		merr := v.markVerified(id, identity, registry.ChannelAutoLogged)
		switch errors.GetCode(merr) {
		case "":
			logged = append(logged, id)
		case errors.EBlockedByIssue:
			blocked = append(blocked, id)
		default:
			return logged, blocked, merr
		}
	}
	return logged, blocked, nil
}
