package issues

import (
	"os"
	osexec "os/exec"
	"runtime"
)

// diagTools is the fixed tool set probed for PATH presence in every
// diagnostics snapshot.
var diagTools = []string{"sh", "git", "curl", "ssh", "rsync"}

// diagEnvKeys is the whitelist of environment facts captured. Values that
// may carry secrets (tokens, full PATH) are deliberately excluded.
var diagEnvKeys = []string{"USER", "SHELL", "LANG", "TERM"}

// CollectDiagnostics gathers the fixed diagnostic bundle: host facts, tool
// presence, whitelisted env, and existence/size of the given artifact
// paths. Never fails; missing facts are simply absent.
func CollectDiagnostics(artifactPaths []string) Diagnostics {
	d := Diagnostics{
		OS:    runtime.GOOS,
		Arch:  runtime.GOARCH,
		Tools: map[string]bool{},
		Env:   map[string]string{},
	}

	if host, err := os.Hostname(); err == nil {
		d.Hostname = host
	}

	for _, tool := range diagTools {
		_, err := osexec.LookPath(tool)
		d.Tools[tool] = err == nil
	}

	for _, key := range diagEnvKeys {
		if val := os.Getenv(key); val != "" {
			d.Env[key] = val
		}
	}

	for _, path := range artifactPaths {
		check := ArtifactCheck{Path: path}
		if info, err := os.Stat(path); err == nil {
			check.Exists = true
			check.SizeBytes = info.Size()
		}
		d.Artifacts = append(d.Artifacts, check)
	}

	return d
}
