// Package scaffold provides starter configuration files for vouch init.
package scaffold

import (
	"os"
	"path/filepath"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
)

// VouchYAMLTemplate is the starter vouch.yaml. Commented defaults only;
// the engine works with an empty file plus a registry.
const VouchYAMLTemplate = `version: 1

# Where registry.json, checkpoint.json, issues/ and runs/ live.
# Overridable with VOUCH_DATA_DIR.
data_dir: .vouch

# Default {target} placeholder value for check commands.
target: ""

# Root for feature source fingerprints. Defaults to this directory.
source_root: .

# How many items one registry update may legally drop.
max_shrink: 0

# Parallel item/scenario executions.
jobs: 4

# Opt in to the auto-logged human verification channel (vouch observe).
auto_log_consent: false

# Default verifying identity for human channels. Defaults to $USER.
identity: ""

scenarios: scenarios.yaml
triggers: triggers.yaml

check_timeout: 60s
prompt_timeout: 30s
`

// ScenariosYAMLTemplate is the starter scenarios.yaml.
const ScenariosYAMLTemplate = `# Integration scenarios, executed in dependency order.
#
# scenarios:
#   - id: backup-cycle
#     items: [backup.creates-archive]
#     steps:
#       - command: "ls {target}/files | wc -l"
#         expected_exit: 0
#         capture: file_count
#       - command: "backup {target} && restore {target} && ls {target}/files | wc -l"
#         expected_exit: 0
#         compare:
#           baseline: file_count
#           tolerance: 0
scenarios: []
`

// TriggersYAMLTemplate is the starter triggers.yaml.
const TriggersYAMLTemplate = `# Auto-log triggers: command-line patterns implying an operator just
# exercised the listed items. Used by vouch observe, gated by
# auto_log_consent in vouch.yaml.
#
# triggers:
#   - pattern: '^backup\b'
#     item_ids: [backup.creates-archive]
triggers: []
`

// starterFiles maps file names to their templates, in creation order.
var starterFiles = []struct {
	Name     string
	Template string
}{
	{"vouch.yaml", VouchYAMLTemplate},
	{"scenarios.yaml", ScenariosYAMLTemplate},
	{"triggers.yaml", TriggersYAMLTemplate},
}

// WriteStarterConfig creates the starter configuration files in dir,
// skipping any that already exist. Returns the paths it created.
func WriteStarterConfig(filesystem fs.FS, dir string) ([]string, error) {
	var created []string
	for _, f := range starterFiles {
		path := filepath.Join(dir, f.Name)
		if _, err := filesystem.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return created, errors.Wrap(errors.EInternal, "checking "+path, err)
		}
		if err := filesystem.WriteFile(path, []byte(f.Template), 0o644); err != nil {
			return created, errors.Wrap(errors.EPersistFailed, "writing "+path, err)
		}
		created = append(created, path)
	}
	return created, nil
}
