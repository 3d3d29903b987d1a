// Package config handles loading and validation of vouch.yaml, the engine
// configuration document. Scenario definitions and auto-log trigger
// patterns live in their own YAML documents referenced from here.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
)

// ConfigVersion is the only vouch.yaml version this engine accepts.
const ConfigVersion = 1

// Defaults.
const (
	DefaultCheckTimeout  = 60 * time.Second
	DefaultPromptTimeout = 30 * time.Second
	DefaultJobs          = 4
	MinTimeout           = 1 * time.Second
	MaxTimeout           = 24 * time.Hour
)

// ConfidenceBand maps a fraction of passed steps to a confidence score.
// Bands are evaluated top-down; the first band whose MinFraction the run
// meets wins. The default table is the documented 100/90/75/50/0 step
// function.
type ConfidenceBand struct {
	MinFraction float64 `yaml:"min_fraction"`
	Score       float64 `yaml:"score"`
}

// DefaultConfidenceBands is the documented default step function.
var DefaultConfidenceBands = []ConfidenceBand{
	{MinFraction: 1.0, Score: 1.0},
	{MinFraction: 0.9, Score: 0.9},
	{MinFraction: 0.75, Score: 0.75},
	{MinFraction: 0.5, Score: 0.5},
	{MinFraction: 0.0, Score: 0.0},
}

// Config is the parsed and validated vouch.yaml.
type Config struct {
	Version int `yaml:"version"`

	// DataDir holds registry.json, checkpoint.json, issues/ and runs/.
	// Overridable via VOUCH_DATA_DIR. Relative paths resolve against the
	// directory containing vouch.yaml.
	DataDir string `yaml:"data_dir"`

	// Target is the default {target} placeholder value for checks.
	Target string `yaml:"target"`

	// SourceRoot is the root against which feature source refs are
	// fingerprinted. Defaults to the directory containing vouch.yaml.
	SourceRoot string `yaml:"source_root"`

	// MaxShrink is the number of items one registry update may drop.
	MaxShrink int `yaml:"max_shrink"`

	// Jobs bounds parallel scenario/feature execution.
	Jobs int `yaml:"jobs"`

	// AutoLogConsent enables the auto-logged human verification channel.
	AutoLogConsent bool `yaml:"auto_log_consent"`

	// Identity is the default verifying identity for human channels.
	// Defaults to $USER.
	Identity string `yaml:"identity"`

	// Scenarios and Triggers are paths to the scenario definitions and the
	// auto-log trigger table, relative to the vouch.yaml directory.
	Scenarios string `yaml:"scenarios"`
	Triggers  string `yaml:"triggers"`

	CheckTimeout  time.Duration `yaml:"-"` // parsed from check_timeout
	PromptTimeout time.Duration `yaml:"-"` // parsed from prompt_timeout

	ConfidenceBands []ConfidenceBand `yaml:"confidence_bands"`

	// Root is the directory vouch.yaml was found in. Derived, not parsed.
	Root string `yaml:"-"`
}

// rawConfig carries the string timeout fields before duration parsing.
type rawConfig struct {
	Config        `yaml:",inline"`
	CheckTimeout  string `yaml:"check_timeout"`
	PromptTimeout string `yaml:"prompt_timeout"`
}

// Load searches for vouch.yaml in startDir and its ancestors, then parses
// and validates it. Returns E_NO_CONFIG when no vouch.yaml is found.
func Load(filesystem fs.FS, startDir string) (Config, error) {
	dir := startDir
	for {
		path := filepath.Join(dir, "vouch.yaml")
		if _, err := filesystem.Stat(path); err == nil {
			return loadFile(filesystem, path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Config{}, errors.New(errors.ENoConfig, "vouch.yaml not found in "+startDir+" or any parent directory")
		}
		dir = parent
	}
}

func loadFile(filesystem fs.FS, path string) (Config, error) {
	data, err := filesystem.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ENoConfig, "failed to read vouch.yaml", err)
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Config{}, errors.Wrap(errors.EInvalidConfig, "invalid vouch.yaml", err)
	}

	cfg := raw.Config
	cfg.Root = filepath.Dir(path)

	if cfg.CheckTimeout, err = parseTimeout(raw.CheckTimeout, DefaultCheckTimeout); err != nil {
		return Config{}, errors.Wrap(errors.EInvalidConfig, "invalid check_timeout", err)
	}
	if cfg.PromptTimeout, err = parseTimeout(raw.PromptTimeout, DefaultPromptTimeout); err != nil {
		return Config{}, errors.Wrap(errors.EInvalidConfig, "invalid prompt_timeout", err)
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if env := os.Getenv("VOUCH_DATA_DIR"); env != "" {
		cfg.DataDir = env
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ".vouch"
	}
	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(cfg.Root, cfg.DataDir)
	}
	if cfg.SourceRoot == "" {
		cfg.SourceRoot = cfg.Root
	} else if !filepath.IsAbs(cfg.SourceRoot) {
		cfg.SourceRoot = filepath.Join(cfg.Root, cfg.SourceRoot)
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = DefaultJobs
	}
	if cfg.Identity == "" {
		cfg.Identity = os.Getenv("USER")
	}
	if cfg.Scenarios == "" {
		cfg.Scenarios = "scenarios.yaml"
	}
	if !filepath.IsAbs(cfg.Scenarios) {
		cfg.Scenarios = filepath.Join(cfg.Root, cfg.Scenarios)
	}
	if cfg.Triggers == "" {
		cfg.Triggers = "triggers.yaml"
	}
	if !filepath.IsAbs(cfg.Triggers) {
		cfg.Triggers = filepath.Join(cfg.Root, cfg.Triggers)
	}
	if len(cfg.ConfidenceBands) == 0 {
		cfg.ConfidenceBands = DefaultConfidenceBands
	}
}

func validate(cfg Config) error {
	if cfg.Version != ConfigVersion {
		return errors.New(errors.EInvalidConfig,
			"unsupported vouch.yaml version (want 1)")
	}
	if cfg.MaxShrink < 0 {
		return errors.New(errors.EInvalidConfig, "max_shrink must be >= 0")
	}
	prev := 2.0
	for _, band := range cfg.ConfidenceBands {
		if band.MinFraction < 0 || band.MinFraction > 1 || band.Score < 0 || band.Score > 1 {
			return errors.New(errors.EInvalidConfig, "confidence band values must be within [0,1]")
		}
		if band.MinFraction >= prev {
			return errors.New(errors.EInvalidConfig, "confidence bands must be ordered by descending min_fraction")
		}
		prev = band.MinFraction
	}
	return nil
}

func parseTimeout(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < MinTimeout || d > MaxTimeout {
		return 0, errors.New(errors.EInvalidConfig, "timeout out of range [1s, 24h]")
	}
	return d, nil
}
