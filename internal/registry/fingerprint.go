package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/vouchcli/vouch/internal/errors"
	"github.com/vouchcli/vouch/internal/fs"
)

// Fingerprint computes the sha256 hex fingerprint of a source reference.
// With a zero StartLine the whole file is hashed; otherwise only the
// inclusive 1-based line range, newline-normalized.
func Fingerprint(filesystem fs.FS, root string, ref SourceRef) (string, error) {
	path := ref.Path
	if root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	data, err := filesystem.ReadFile(path)
	if err != nil {
		return "", errors.WrapWithDetails(
			errors.ESourceUnfingerable,
			"cannot read source file: "+ref.Path,
			err,
			map[string]string{"path": ref.Path},
		)
	}

	if ref.StartLine > 0 {
		lines := bytes.Split(data, []byte("\n"))
		start := ref.StartLine - 1
		end := ref.EndLine
		if start >= len(lines) {
			return "", errors.NewWithDetails(
				errors.ESourceUnfingerable,
				fmt.Sprintf("source %s has %d lines, range starts at %d", ref.Path, len(lines), ref.StartLine),
				map[string]string{"path": ref.Path},
			)
		}
		if end > len(lines) {
			end = len(lines)
		}
		data = bytes.Join(lines[start:end], []byte("\n"))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SourcesStale reports whether any of the feature's source references no
// longer matches its recorded fingerprint. An unreadable source counts as
// stale: evidence for code we cannot see anymore is not trustworthy.
func SourcesStale(filesystem fs.FS, root string, f Feature) bool {
	for _, ref := range f.Sources {
		got, err := Fingerprint(filesystem, root, ref)
		if err != nil || got != ref.Fingerprint {
			return true
		}
	}
	return false
}
