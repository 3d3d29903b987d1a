// Package scenario orchestrates multi-step integration workflows over the
// commands under test. Scenarios form a DAG; execution is dependency
// ordered, checkpointed after every scenario completion, and resumable.
package scenario

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/registry"
)

// Compare asserts a step's output against a previously captured baseline.
// Tolerance applies when both values parse as numbers; a zero tolerance on
// non-numeric values means exact string match.
type Compare struct {
	Baseline  string  `yaml:"baseline"`
	Tolerance float64 `yaml:"tolerance"`
}

// Step is one command execution inside a scenario.
type Step struct {
	Name           string   `yaml:"name,omitempty"`
	Command        string   `yaml:"command"`
	ExpectedExit   int      `yaml:"expected_exit"`
	TimeoutMS      int64    `yaml:"timeout_ms,omitempty"`
	AssertContains []string `yaml:"assert_contains,omitempty"`
	Capture        string   `yaml:"capture,omitempty"` // stash trimmed output under this baseline name
	Compare        *Compare `yaml:"compare,omitempty"`
}

// Scenario is a dependency-ordered integration workflow.
type Scenario struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Items are the registry item ids this scenario exercises, for
	// coverage attribution. Passing a scenario does not mark them
	// verified; that stays the verifiers' job.
	Items []string `yaml:"items,omitempty"`

	// Preserve names external resources this scenario creates that must
	// survive teardown and be reused on resume.
	Preserve []string `yaml:"preserve,omitempty"`

	EstimatedDuration string `yaml:"estimated_duration,omitempty"`
	Steps             []Step `yaml:"steps"`
}

// FixPattern maps a failing step's output to remediation commands. On step
// failure the first matching pattern's commands run once, then the step is
// retried once.
type FixPattern struct {
	Pattern  string   `yaml:"pattern"`
	Commands []string `yaml:"commands"`

	re *regexp.Regexp
}

// Matches reports whether the pattern matches the given step output.
func (f *FixPattern) Matches(output string) bool {
	return f.re.MatchString(output)
}

type scenarioFile struct {
	Scenarios   []Scenario   `yaml:"scenarios"`
	FixPatterns []FixPattern `yaml:"fix_patterns,omitempty"`
}

// Set is the validated contents of scenarios.yaml plus the computed
// topological order.
type Set struct {
	Scenarios   []Scenario // declaration order
	FixPatterns []FixPattern

	byID  map[string]*Scenario
	order []string // topological, stable w.r.t. declaration order
}

// Get returns the scenario with the given id.
func (s *Set) Get(id string) (*Scenario, bool) {
	sc, ok := s.byID[id]
	return sc, ok
}

// Order returns scenario ids in topological order.
func (s *Set) Order() []string {
	return s.order
}

// Load reads and validates scenarios.yaml. Item references are checked
// against the registry so that coverage attribution can never point at
// claims that do not exist.
func Load(filesystem fs.FS, path string, reg *registry.Registry) (*Set, error) {
	data, err := filesystem.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.EInvalidScenario, fmt.Sprintf("reading %s", path), err)
	}
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(errors.EInvalidScenario, fmt.Sprintf("parsing %s", path), err)
	}

	set := &Set{
		Scenarios:   file.Scenarios,
		FixPatterns: file.FixPatterns,
		byID:        make(map[string]*Scenario, len(file.Scenarios)),
	}
	for i := range set.Scenarios {
		sc := &set.Scenarios[i]
		if sc.ID == "" {
			return nil, errors.New(errors.EInvalidScenario, fmt.Sprintf("scenario %d: empty id", i))
		}
		if _, dup := set.byID[sc.ID]; dup {
			return nil, errors.New(errors.EInvalidScenario, fmt.Sprintf("duplicate scenario id %q", sc.ID))
		}
		set.byID[sc.ID] = sc
		if len(sc.Steps) == 0 {
			return nil, errors.New(errors.EInvalidScenario, fmt.Sprintf("scenario %q: no steps", sc.ID))
		}
		for j, step := range sc.Steps {
			if step.Command == "" {
				return nil, errors.New(errors.EInvalidScenario,
					fmt.Sprintf("scenario %q step %d: empty command", sc.ID, j))
			}
			if step.Compare != nil && step.Compare.Baseline == "" {
				return nil, errors.New(errors.EInvalidScenario,
					fmt.Sprintf("scenario %q step %d: compare without a baseline name", sc.ID, j))
			}
		}
		for _, itemID := range sc.Items {
			if _, _, ok := reg.FindItem(itemID); !ok {
				return nil, errors.NewWithDetails(errors.EInvalidScenario,
					fmt.Sprintf("scenario %q references unknown item %q", sc.ID, itemID),
					map[string]string{"scenario": sc.ID, "item": itemID})
			}
		}
	}
	for _, sc := range set.Scenarios {
		for _, dep := range sc.DependsOn {
			if _, ok := set.byID[dep]; !ok {
				return nil, errors.NewWithDetails(errors.EInvalidScenario,
					fmt.Sprintf("scenario %q depends on unknown scenario %q", sc.ID, dep),
					map[string]string{"scenario": sc.ID})
			}
		}
	}

	for i := range set.FixPatterns {
		fp := &set.FixPatterns[i]
		re, err := regexp.Compile(fp.Pattern)
		if err != nil {
			return nil, errors.Wrap(errors.EInvalidScenario,
				fmt.Sprintf("fix pattern %d: %q", i, fp.Pattern), err)
		}
		fp.re = re
		if len(fp.Commands) == 0 {
			return nil, errors.New(errors.EInvalidScenario,
				fmt.Sprintf("fix pattern %d: no commands", i))
		}
	}

	order, err := set.topoSort()
	if err != nil {
		return nil, err
	}
	set.order = order
	return set, nil
}

// topoSort is Kahn's algorithm, stable with respect to declaration order so
// runs are reproducible.
func (s *Set) topoSort() ([]string, error) {
	indegree := make(map[string]int, len(s.Scenarios))
	for _, sc := range s.Scenarios {
		indegree[sc.ID] = len(sc.DependsOn)
	}

	order := make([]string, 0, len(s.Scenarios))
	for len(order) < len(s.Scenarios) {
		progressed := false
		for _, sc := range s.Scenarios {
			if indegree[sc.ID] != 0 {
				continue
			}
			order = append(order, sc.ID)
			indegree[sc.ID] = -1
			for _, other := range s.Scenarios {
				for _, dep := range other.DependsOn {
					if dep == sc.ID {
						indegree[other.ID]--
					}
				}
			}
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, sc := range s.Scenarios {
				if indegree[sc.ID] > 0 {
					stuck = append(stuck, sc.ID)
				}
			}
			return nil, errors.NewWithDetails(errors.EScenarioCycle,
				"scenario dependencies contain a cycle",
				map[string]string{"scenarios": fmt.Sprintf("%v", stuck)})
		}
	}
	return order, nil
}
