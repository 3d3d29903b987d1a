package registry

import (
	"fmt"

	"github.com/vouchcli/vouch/internal/errors"
)

// Validate performs structural validation of the registry document.
//
// This is the gate every load and every atomic update passes through. It
// checks structure, not runtime invariants: a non-automatable item with a
// machine-verified state is structurally representable (it is exactly the
// corruption the stats aggregator must detect and report), so it is NOT
// rejected here.
func (r *Registry) Validate() error {
	if r.SchemaVersion != SchemaVersion {
		return errors.NewWithDetails(
			errors.ESchemaUnsupported,
			fmt.Sprintf("registry schema_version %q is not supported (want %q)", r.SchemaVersion, SchemaVersion),
			map[string]string{"schema_version": r.SchemaVersion},
		)
	}

	seenFeature := map[string]bool{}
	seenItem := map[string]bool{}

	for _, f := range r.Features {
		if f.ID == "" {
			return errors.New(errors.ERegistryCorrupt, "feature with empty id")
		}
		if seenFeature[f.ID] {
			return errors.New(errors.ERegistryCorrupt, "duplicate feature id: "+f.ID)
		}
		seenFeature[f.ID] = true

		for _, src := range f.Sources {
			if src.Path == "" {
				return errors.New(errors.ERegistryCorrupt, "feature "+f.ID+": source with empty path")
			}
			if src.StartLine < 0 || src.EndLine < src.StartLine {
				return errors.New(errors.ERegistryCorrupt,
					fmt.Sprintf("feature %s: source %s has invalid line range %d-%d", f.ID, src.Path, src.StartLine, src.EndLine))
			}
		}

		for _, it := range f.Items {
			if err := validateItem(f.ID, it); err != nil {
				return err
			}
			if seenItem[it.ID] {
				return errors.New(errors.ERegistryCorrupt, "duplicate item id: "+it.ID)
			}
			seenItem[it.ID] = true
		}
	}
	return nil
}

func validateItem(featureID string, it Item) error {
	if it.ID == "" {
		return errors.New(errors.ERegistryCorrupt, "feature "+featureID+": item with empty id")
	}
	if it.Text == "" {
		return errors.New(errors.ERegistryCorrupt, "item "+it.ID+": empty text")
	}

	switch it.Class {
	case ClassAutomatable:
	case ClassEnvironmentDependent, ClassManualOnly:
		if it.ClassReason == "" {
			return errors.New(errors.ERegistryCorrupt,
				fmt.Sprintf("item %s: class %q requires class_reason", it.ID, it.Class))
		}
	default:
		return errors.New(errors.ERegistryCorrupt,
			fmt.Sprintf("item %s: unknown class %q", it.ID, it.Class))
	}

	for depth, checks := range it.Checks {
		if _, err := ParseDepth(string(depth)); err != nil {
			return errors.New(errors.ERegistryCorrupt,
				fmt.Sprintf("item %s: %v", it.ID, err))
		}
		for i, c := range checks {
			if c.Command == "" {
				return errors.New(errors.ERegistryCorrupt,
					fmt.Sprintf("item %s: %s check %d has empty command", it.ID, depth, i))
			}
			if c.TimeoutMS < 0 {
				return errors.New(errors.ERegistryCorrupt,
					fmt.Sprintf("item %s: %s check %d has negative timeout", it.ID, depth, i))
			}
		}
	}

	switch it.Human.Channel {
	case "", ChannelManual, ChannelAutoLogged, ChannelOpportunistic:
	default:
		return errors.New(errors.ERegistryCorrupt,
			fmt.Sprintf("item %s: unknown human channel %q", it.ID, it.Human.Channel))
	}

	if it.Machine.Depth != "" {
		if _, err := ParseDepth(string(it.Machine.Depth)); err != nil {
			return errors.New(errors.ERegistryCorrupt,
				fmt.Sprintf("item %s: machine state: %v", it.ID, err))
		}
	}

	return nil
}
