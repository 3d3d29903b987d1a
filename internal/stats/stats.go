// Package stats derives coverage statistics and badges from the registry.
// Statistics are always recomputed from items, never cached: a stored
// aggregate can go stale, a recomputation cannot.
package stats

import (
	"fmt"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/registry"
)

// ClassStats is verified/total for one automatability class.
type ClassStats struct {
	Verified int `json:"verified"`
	Total    int `json:"total"`
}

// Percent returns the coverage percentage, 0 for an empty class.
func (c ClassStats) Percent() float64 {
	if c.Total == 0 {
		return 0
	}
	return 100 * float64(c.Verified) / float64(c.Total)
}

// Statistics is the derived coverage picture of one registry snapshot.
type Statistics struct {
	// Machine counts machine-verified items over the automatable class
	// only. Items of other classes are excluded from this denominator.
	Machine ClassStats `json:"machine"`

	// Human counts human-verified items over all items.
	Human ClassStats `json:"human"`

	// PerClass holds human verification split by class, for the extended
	// badge set.
	PerClass map[registry.Automatability]ClassStats `json:"per_class"`

	// Combined counts items by derived status (source staleness not
	// consulted; callers wanting invalidation run their own fingerprint
	// pass first).
	Combined map[registry.Status]int `json:"combined"`

	Items    int `json:"items"`
	Features int `json:"features"`
}

// Recompute derives Statistics from the registry. Pure.
//
// Any non-automatable item carrying machine.verified=true is a hard
// inconsistency: Recompute fails closed rather than emit a number whose
// denominator is a lie. The registry's structural validation deliberately
// accepts such a document so it can be loaded and repaired; this is the
// gate that keeps it out of published metrics.
func Recompute(reg *registry.Registry) (Statistics, error) {
	stats := Statistics{
		PerClass: map[registry.Automatability]ClassStats{},
		Combined: map[registry.Status]int{},
		Features: len(reg.Features),
	}
	var conflicted []string
	for _, feat := range reg.Features {
		for _, it := range feat.Items {
			stats.Items++

			if it.Class != registry.ClassAutomatable && it.Machine.Verified {
				conflicted = append(conflicted, it.ID)
				continue
			}

			if it.Class == registry.ClassAutomatable {
				stats.Machine.Total++
				if it.Machine.Verified {
					stats.Machine.Verified++
				}
			}

			stats.Human.Total++
			pc := stats.PerClass[it.Class]
			pc.Total++
			if it.Human.Verified {
				stats.Human.Verified++
				pc.Verified++
			}
			stats.PerClass[it.Class] = pc

			stats.Combined[registry.ItemStatus(it, false)]++
		}
	}
	if len(conflicted) > 0 {
		return Statistics{}, errors.NewWithDetails(errors.EStatsInconsistent,
			fmt.Sprintf("%d item(s) claim machine verification despite a non-automatable class", len(conflicted)),
			map[string]string{"items": fmt.Sprintf("%v", conflicted)})
	}
	return stats, nil
}
