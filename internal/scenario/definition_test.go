package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
	"github.com/vouchcli/vouch/internal/registry"
)

func testRegistry() *registry.Registry {
	return &registry.Registry{
		SchemaVersion: registry.SchemaVersion,
		Features: []registry.Feature{
			{
				ID:   "backup",
				Name: "Backup command",
				Items: []registry.Item{
					{ID: "backup.creates-archive", Text: "t", Class: registry.ClassAutomatable},
					{ID: "backup.restores-clean", Text: "t", Class: registry.ClassAutomatable},
				},
			},
		},
	}
}

func loadSet(t *testing.T, yaml string) (*Set, error) {
	t.Helper()
	path := t.TempDir() + "/scenarios.yaml"
	require.NoError(t, fs.NewRealFS().WriteFile(path, []byte(yaml), 0o644))
	return Load(fs.NewRealFS(), path, testRegistry())
}

const validScenariosYAML = `
scenarios:
  - id: provision
    steps:
      - command: "true"
        expected_exit: 0
  - id: backup-cycle
    depends_on: [provision]
    items: [backup.creates-archive, backup.restores-clean]
    steps:
      - command: "echo 42"
        expected_exit: 0
        capture: file_count
      - command: "echo 42"
        expected_exit: 0
        compare:
          baseline: file_count
          tolerance: 0
  - id: teardown
    depends_on: [backup-cycle]
    steps:
      - command: "true"
        expected_exit: 0
fix_patterns:
  - pattern: 'lock held'
    commands: ["rm -f {data_dir}/lock"]
`

func TestLoad(t *testing.T) {
	set, err := loadSet(t, validScenariosYAML)
	require.NoError(t, err)
	assert.Equal(t, []string{"provision", "backup-cycle", "teardown"}, set.Order())
	sc, ok := set.Get("backup-cycle")
	require.True(t, ok)
	assert.Equal(t, []string{"provision"}, sc.DependsOn)
	require.Len(t, set.FixPatterns, 1)
	assert.True(t, set.FixPatterns[0].Matches("fatal: lock held by pid 4242"))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantCode errors.Code
	}{
		{
			"duplicate id",
			"scenarios:\n  - id: a\n    steps: [{command: 'true', expected_exit: 0}]\n  - id: a\n    steps: [{command: 'true', expected_exit: 0}]\n",
			errors.EInvalidScenario,
		},
		{
			"unknown dependency",
			"scenarios:\n  - id: a\n    depends_on: [ghost]\n    steps: [{command: 'true', expected_exit: 0}]\n",
			errors.EInvalidScenario,
		},
		{
			"unknown item",
			"scenarios:\n  - id: a\n    items: [nope.missing]\n    steps: [{command: 'true', expected_exit: 0}]\n",
			errors.EInvalidScenario,
		},
		{
			"empty step command",
			"scenarios:\n  - id: a\n    steps: [{command: '', expected_exit: 0}]\n",
			errors.EInvalidScenario,
		},
		{
			"no steps",
			"scenarios:\n  - id: a\n",
			errors.EInvalidScenario,
		},
		{
			"compare without baseline name",
			"scenarios:\n  - id: a\n    steps: [{command: 'true', expected_exit: 0, compare: {tolerance: 1}}]\n",
			errors.EInvalidScenario,
		},
		{
			"bad fix pattern",
			"scenarios:\n  - id: a\n    steps: [{command: 'true', expected_exit: 0}]\nfix_patterns:\n  - pattern: '['\n    commands: [x]\n",
			errors.EInvalidScenario,
		},
		{
			"two-node cycle",
			"scenarios:\n  - id: a\n    depends_on: [b]\n    steps: [{command: 'true', expected_exit: 0}]\n  - id: b\n    depends_on: [a]\n    steps: [{command: 'true', expected_exit: 0}]\n",
			errors.EScenarioCycle,
		},
		{
			"self cycle",
			"scenarios:\n  - id: a\n    depends_on: [a]\n    steps: [{command: 'true', expected_exit: 0}]\n",
			errors.EScenarioCycle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSet(t, tt.yaml)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
		})
	}
}

func TestTopoSort_DiamondIsStable(t *testing.T) {
	set, err := loadSet(t, `
scenarios:
  - id: base
    steps: [{command: 'true', expected_exit: 0}]
  - id: left
    depends_on: [base]
    steps: [{command: 'true', expected_exit: 0}]
  - id: right
    depends_on: [base]
    steps: [{command: 'true', expected_exit: 0}]
  - id: join
    depends_on: [left, right]
    steps: [{command: 'true', expected_exit: 0}]
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "left", "right", "join"}, set.Order())
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		fraction float64
		want     float64
	}{
		{1.0, 1.0},
		{0.95, 0.9},
		{0.9, 0.9},
		{0.8, 0.75},
		{0.5, 0.5},
		{0.25, 0},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Confidence(tt.fraction, nil), "fraction %v", tt.fraction)
	}
}

func TestBaselineMatch(t *testing.T) {
	tests := []struct {
		name      string
		baseline  string
		actual    string
		tolerance float64
		want      bool
	}{
		{"numeric exact", "42", "42", 0, true},
		{"numeric within tolerance", "42", "44", 2, true},
		{"numeric beyond tolerance", "42", "45", 2, false},
		{"string exact", "abc", "abc", 0, true},
		{"string mismatch", "abc", "abd", 0, false},
		{"string with tolerance never matches", "abc", "abc", 1, false},
		{"numeric vs string", "42", "forty-two", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BaselineMatch(tt.baseline, tt.actual, tt.tolerance))
		})
	}
}
