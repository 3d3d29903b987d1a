package stats

import (
	"fmt"

	"github.com/vouchcli/vouch/internal/registry"
)

// Badge is one publishable coverage figure.
type Badge struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Color string `json:"color"`
}

// Badge colors, worst to best.
const (
	ColorRed         = "red"
	ColorOrange      = "orange"
	ColorYellow      = "yellow"
	ColorBrightgreen = "brightgreen"
)

// machineColor maps machine coverage to the 4-color scale. Machine
// thresholds sit higher than human ones: automatable claims have no excuse
// for staying unverified.
func machineColor(pct float64) string {
	switch {
	case pct < 50:
		return ColorRed
	case pct < 65:
		return ColorOrange
	case pct < 80:
		return ColorYellow
	default:
		return ColorBrightgreen
	}
}

func humanColor(pct float64) string {
	switch {
	case pct < 30:
		return ColorRed
	case pct < 60:
		return ColorYellow
	default:
		return ColorBrightgreen
	}
}

// ExportBadges renders Statistics into badges. The basic set is machine and
// human coverage; extended adds per-class human coverage and the combined
// status breakdown.
func ExportBadges(stats Statistics, extended bool) []Badge {
	badges := []Badge{
		{
			Label: "machine verified",
			Value: fmt.Sprintf("%.0f%% (%d/%d)", stats.Machine.Percent(), stats.Machine.Verified, stats.Machine.Total),
			Color: machineColor(stats.Machine.Percent()),
		},
		{
			Label: "human verified",
			Value: fmt.Sprintf("%.0f%% (%d/%d)", stats.Human.Percent(), stats.Human.Verified, stats.Human.Total),
			Color: humanColor(stats.Human.Percent()),
		},
	}
	if !extended {
		return badges
	}
	for _, class := range []registry.Automatability{
		registry.ClassAutomatable,
		registry.ClassEnvironmentDependent,
		registry.ClassManualOnly,
	} {
		cs, ok := stats.PerClass[class]
		if !ok {
			continue
		}
		badges = append(badges, Badge{
			Label: fmt.Sprintf("human verified (%s)", class),
			Value: fmt.Sprintf("%.0f%% (%d/%d)", cs.Percent(), cs.Verified, cs.Total),
			Color: humanColor(cs.Percent()),
		})
	}
	fully := stats.Combined[registry.StatusFullyVerified]
	pct := 0.0
	if stats.Items > 0 {
		pct = 100 * float64(fully) / float64(stats.Items)
	}
	badges = append(badges, Badge{
		Label: "fully verified",
		Value: fmt.Sprintf("%.0f%% (%d/%d)", pct, fully, stats.Items),
		Color: humanColor(pct),
	})
	return badges
}
